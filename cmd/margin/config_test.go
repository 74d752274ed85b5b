package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8085" || cfg.DBPath != "db/margin.db" || cfg.LogLevel != "info" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "margin.yaml")
	data := `
listen: ":9000"
db: "/tmp/test.db"
log_level: debug
stale_after: 15m
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.DBPath != "/tmp/test.db" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.StaleAfter != 15*time.Minute {
		t.Errorf("stale_after = %v", cfg.StaleAfter)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("MARGIN_DB", "/tmp/env.db")
	t.Setenv("MCP_TRANSPORT", "stdio")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":7777" || cfg.DBPath != "/tmp/env.db" || cfg.MCPTransport != "stdio" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig("/nonexistent/margin.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
