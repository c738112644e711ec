package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	t.Setenv("CONFIG_FILE", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without REDIS_URL")
	}
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DISCONNECT_GRACE_SEC", "12")
	t.Setenv("START_DELAY_MS", "0")
	t.Setenv("ALLOWED_ORIGINS", "a.example, b.example,")
	t.Setenv("CLOCK_POLICY", "SERVER")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DisconnectGrace() != 12*time.Second {
		t.Fatalf("grace = %v", cfg.DisconnectGrace())
	}
	if cfg.StartDelay() != 0 {
		t.Fatalf("start delay = %v", cfg.StartDelay())
	}
	if cfg.DefaultTimeControl != 600 {
		t.Fatalf("time control = %d", cfg.DefaultTimeControl)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.ClockPolicy != ClockServer {
		t.Fatalf("clock policy = %q", cfg.ClockPolicy)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	body := "redis_url: redis://file:6379/1\nlisten_addr: \":9000\"\ndefault_time_control: 300\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("REDIS_URL", "")
	t.Setenv("LISTEN_ADDR", ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisURL != "redis://file:6379/1" {
		t.Fatalf("redis url = %q", cfg.RedisURL)
	}
	if cfg.ListenAddr != ":9100" {
		t.Fatalf("env should override file, got %q", cfg.ListenAddr)
	}
	if cfg.DefaultTimeControl != 300 {
		t.Fatalf("time control = %d", cfg.DefaultTimeControl)
	}
}

func TestValidateRejectsUnknownClockPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.RedisURL = "redis://x"
	cfg.ClockPolicy = "wall"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
