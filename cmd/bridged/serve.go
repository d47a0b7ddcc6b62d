package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/mcpbridge/config"
	"github.com/mohammad-safakhou/mcpbridge/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return server.Run(cfg)
		},
	}
	serve.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (optional; env vars apply either way)")
	return serve
}
