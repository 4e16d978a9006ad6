package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := []byte(`
server:
  port: "9090"
redis:
  addr: localhost:6379
  ttl: 5m
game:
  min_players: 3
sync:
  poll_interval: 2s
  submit_retries: 10
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DATABASE_URL", "postgres://quiz@localhost/quiz")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("expected env to override redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.Postgres.URL != "postgres://quiz@localhost/quiz" {
		t.Fatalf("expected postgres url from env, got %q", cfg.Postgres.URL)
	}
	if cfg.Game.MinPlayers != 3 || cfg.Sync.SubmitRetries != 10 {
		t.Fatalf("unexpected game/sync config %+v %+v", cfg.Game, cfg.Sync)
	}
	if d := Duration(cfg.Sync.PollInterval, time.Second); d != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", d)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "" {
		t.Fatalf("expected empty port, got %q", cfg.Server.Port)
	}
}

func TestDurationFallback(t *testing.T) {
	if d := Duration("", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback for empty, got %s", d)
	}
	if d := Duration("nonsense", time.Minute); d != time.Minute {
		t.Fatalf("expected fallback for invalid, got %s", d)
	}
	if d := Duration("150ms", time.Minute); d != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", d)
	}
	if n := Int(0, 4); n != 4 {
		t.Fatalf("expected fallback int, got %d", n)
	}
}
