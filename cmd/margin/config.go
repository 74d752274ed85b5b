package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the margin service configuration. Values come from an optional
// YAML file, then environment variables override field by field.
type Config struct {
	Listen       string        `yaml:"listen"`
	DBPath       string        `yaml:"db"`
	Secret       string        `yaml:"secret"`
	LogLevel     string        `yaml:"log_level"`
	MCPTransport string        `yaml:"mcp_transport"` // "" or "stdio"
	AgentName    string        `yaml:"agent_name"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8085"
	}
	if c.DBPath == "" {
		c.DBPath = "db/margin.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.AgentName == "" {
		c.AgentName = "local-agent"
	}
}

// loadConfig reads the YAML file at path (optional) and overlays
// environment variables.
func loadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = ":" + v
	}
	if v := os.Getenv("MARGIN_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MCP_TRANSPORT"); v != "" {
		cfg.MCPTransport = v
	}
	if v := os.Getenv("AGENT_NAME"); v != "" {
		cfg.AgentName = v
	}

	cfg.applyDefaults()
	return &cfg, nil
}
