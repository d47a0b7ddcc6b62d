package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/mcpbridge/config"
	"github.com/mohammad-safakhou/mcpbridge/internal/agent"
	"github.com/mohammad-safakhou/mcpbridge/internal/mcphost"
	"github.com/mohammad-safakhou/mcpbridge/internal/telemetry"
	"github.com/mohammad-safakhou/mcpbridge/internal/trace"
	"github.com/mohammad-safakhou/mcpbridge/provider"
)

// Run starts the bridge HTTP server and blocks until it exits.
func Run(cfg *config.Config) error {
	e, err := newEcho(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	log.Printf("listening on %s", cfg.Server.Address())
	return e.Start(cfg.Server.Address())
}

// newEcho assembles the echo instance; split out so tests can mount it on
// httptest servers.
func newEcho(cfg *config.Config, reg prometheus.Registerer) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]any{"error": msg})
		}
	}

	origins := []string{"*"}
	if cfg.Server.FrontOrigin != "" {
		origins = []string{cfg.Server.FrontOrigin}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"ok": true, "service": "local-mcp-bridge"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	host := mcphost.New(cfg.MCP.Token, cfg.MCP.Timeout, nil)
	tele := telemetry.New(reg)

	var sink agent.TraceSink = trace.NewNopSink()
	if cfg.Trace.Enabled() {
		redisSink, err := trace.NewRedisSink(context.Background(), cfg.Trace.RedisAddr, cfg.Trace.RedisPassword, cfg.Trace.RedisDB, cfg.Trace.TTL)
		if err != nil {
			return nil, fmt.Errorf("trace sink: %w", err)
		}
		sink = redisSink
	}

	var orch *agent.Orchestrator
	if cfg.LLM.APIKey != "" {
		llm, err := provider.NewProvider(cfg.LLM)
		if err != nil {
			return nil, err
		}
		orch = agent.NewOrchestrator(cfg, llm, host, tele, sink, nil)
	}

	h := &ChatHandler{cfg: cfg, orch: orch, host: host}
	api := e.Group("/api")
	api.POST("/mcp/chat", h.chat)
	api.POST("/mcp/chat/stream", h.chatStream)
	api.POST("/mcp/query", h.query)

	return e, nil
}
