package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nmoreno/subastas-monitor/internal/store"
)

func TestLoad(t *testing.T) {
	yaml := `
store:
  backend: sqlite
  path: subastas.db
collector:
  auction_url: https://portal.example/sle/vivo?idCot=22053
  poll_seconds: 1.5
ui_stream:
  listen: 127.0.0.1:9000
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "sqlite")
	}
	if cfg.Store.Path != "subastas.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "subastas.db")
	}
	if cfg.Collector.PollSeconds != 1.5 {
		t.Errorf("Collector.PollSeconds = %v, want 1.5", cfg.Collector.PollSeconds)
	}
	if cfg.UIStream.Listen != "127.0.0.1:9000" {
		t.Errorf("UIStream.Listen = %q, want %q", cfg.UIStream.Listen, "127.0.0.1:9000")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
store:
  backend: postgres
  postgres:
    host: localhost
    name: subastas
    user: monitor
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Store.Postgres.Password != "secret123" {
		t.Errorf("Store.Postgres.Password = %q, want %q", cfg.Store.Postgres.Password, "secret123")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
collector:
  auction_url: https://portal.example/sle/vivo?idCot=22053
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Store.Backend != DefaultStoreBackend {
		t.Errorf("Store.Backend = %q, want default %q", cfg.Store.Backend, DefaultStoreBackend)
	}
	if cfg.Store.Path != DefaultSQLitePath {
		t.Errorf("Store.Path = %q, want default %q", cfg.Store.Path, DefaultSQLitePath)
	}
	if cfg.Collector.PollSeconds != DefaultPollSeconds {
		t.Errorf("Collector.PollSeconds = %v, want default %v", cfg.Collector.PollSeconds, DefaultPollSeconds)
	}
	if cfg.Collector.SessionExpiryThreshold != DefaultSessionExpiryThreshold {
		t.Errorf("Collector.SessionExpiryThreshold = %d, want default %d",
			cfg.Collector.SessionExpiryThreshold, DefaultSessionExpiryThreshold)
	}
	if cfg.Engine.Security.BackoffAt != 3 {
		t.Errorf("Engine.Security.BackoffAt = %d, want default 3", cfg.Engine.Security.BackoffAt)
	}
	if cfg.Engine.Security.StopAt != 10 {
		t.Errorf("Engine.Security.StopAt = %d, want default 10", cfg.Engine.Security.StopAt)
	}
	if cfg.Engine.BasePollSeconds != cfg.Collector.PollSeconds {
		t.Errorf("Engine.BasePollSeconds = %v, want collector poll %v",
			cfg.Engine.BasePollSeconds, cfg.Collector.PollSeconds)
	}
	if cfg.Queues.RawCapacity != DefaultRawCapacity {
		t.Errorf("Queues.RawCapacity = %d, want default %d", cfg.Queues.RawCapacity, DefaultRawCapacity)
	}
	if cfg.UIStream.Listen != DefaultUIListen {
		t.Errorf("UIStream.Listen = %q, want default %q", cfg.UIStream.Listen, DefaultUIListen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MonitorConfig)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *MonitorConfig) {},
			wantErr: "",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *MonitorConfig) { c.Store.Backend = "mysql" },
			wantErr: `store.backend must be sqlite or postgres, got "mysql"`,
		},
		{
			name: "sqlite without path",
			mutate: func(c *MonitorConfig) {
				c.Store.Backend = "sqlite"
				c.Store.Path = ""
			},
			wantErr: "store.path is required for the sqlite backend",
		},
		{
			name:    "postgres missing host",
			mutate:  func(c *MonitorConfig) { c.Store.Backend = "postgres" },
			wantErr: "store.postgres.host is required",
		},
		{
			name: "postgres min_conns exceeds max_conns",
			mutate: func(c *MonitorConfig) {
				c.Store.Backend = "postgres"
				c.Store.Postgres = store.PGConfig{
					Host: "localhost", Name: "db", User: "u", Password: "p",
					MaxConns: 5, MinConns: 10,
				}
			},
			wantErr: "store.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "poll below minimum",
			mutate:  func(c *MonitorConfig) { c.Collector.PollSeconds = 0.1 },
			wantErr: "collector.poll_seconds (0.1) cannot be below min_poll_seconds (0.5)",
		},
		{
			name:    "max below poll",
			mutate:  func(c *MonitorConfig) { c.Collector.MaxPollSeconds = 1 },
			wantErr: "collector.max_poll_seconds (1) cannot be below poll_seconds (2)",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *MonitorConfig) { c.Collector.Concurrency = -1 },
			wantErr: "collector.concurrency must be >= 1",
		},
		{
			name: "stop_at not above backoff_at",
			mutate: func(c *MonitorConfig) {
				c.Engine.Security.BackoffAt = 5
				c.Engine.Security.StopAt = 5
			},
			wantErr: "engine.security.stop_at (5) must exceed backoff_at (5)",
		},
		{
			name:    "multiplier below one",
			mutate:  func(c *MonitorConfig) { c.Engine.Security.Multiplier = 0.5 },
			wantErr: "engine.security.multiplier must be >= 1",
		},
		{
			name:    "negative queue capacity",
			mutate:  func(c *MonitorConfig) { c.Queues.RawCapacity = -1 },
			wantErr: "queues.raw_capacity must be >= 1",
		},
		{
			name:    "missing ui listen",
			mutate:  func(c *MonitorConfig) { c.UIStream.Listen = "" },
			wantErr: "ui_stream.listen is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
