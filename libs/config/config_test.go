package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "exchange" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.ReadTimeout != 5*time.Second {
		t.Fatalf("expected 5s read timeout, got %s", cfg.HTTP.ReadTimeout)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "service_name: exchange-test\nhttp:\n  port: 9090\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("EXCH_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "exchange-test" || cfg.HTTP.Port != 9090 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env override, got %q", cfg.LogLevel)
	}
	if cfg.HTTP.Addr() != "0.0.0.0:9090" {
		t.Fatalf("unexpected addr %q", cfg.HTTP.Addr())
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("EXCH_HTTP_PORT", "70000")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected port validation error")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("EXCH_CONFIG", "/etc/exchange.yaml")
	if got := PathFromEnv(); got != "/etc/exchange.yaml" {
		t.Fatalf("unexpected path %q", got)
	}
}
