package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the bridge.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Trace     TraceConfig     `mapstructure:"trace"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	FrontOrigin string `mapstructure:"front_origin"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf(":%d", s.Port)
}

func (s ServerConfig) Validate() error {
	if s.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// LLMConfig contains the upstream language-model settings.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// MCPConfig contains the local tool-host settings.
type MCPConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Token        string        `mapstructure:"token"`
	DefaultPaths []string      `mapstructure:"default_paths"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (m MCPConfig) Validate() error {
	if strings.TrimSpace(m.Endpoint) == "" {
		return nil
	}
	u, err := url.Parse(m.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("mcp.endpoint is not a valid URL: %q", m.Endpoint)
	}
	return nil
}

// TelemetryConfig controls the prometheus metrics surface.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TraceConfig controls the optional redis agent-trace sink.
type TraceConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

func (t TraceConfig) Enabled() bool { return strings.TrimSpace(t.RedisAddr) != "" }

// LoadConfig loads config from an optional file plus environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("server.port", 4000)
	v.SetDefault("server.front_origin", "*")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("mcp.default_paths", []string{"notes/"})
	v.SetDefault("mcp.timeout", 30*time.Second)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("trace.ttl", time.Hour)

	// Environment names the deployment already uses.
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.front_origin", "FRONT_ORIGIN")
	_ = v.BindEnv("mcp.endpoint", "LOCAL_MCP_ENDPOINT")
	_ = v.BindEnv("mcp.token", "LOCAL_MCP_TOKEN")
	_ = v.BindEnv("mcp.default_paths", "LOCAL_MCP_DEFAULT_PATHS")
	_ = v.BindEnv("llm.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.model", "OPENAI_MODEL")
	_ = v.BindEnv("trace.redis_addr", "TRACE_REDIS_ADDR")
	_ = v.BindEnv("trace.redis_password", "TRACE_REDIS_PASSWORD")

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.MCP.DefaultPaths = splitPathList(cfg.MCP.DefaultPaths)

	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.MCP.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitPathList splits comma-separated entries carried through a single env
// value and trims empties.
func splitPathList(in []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range in {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
