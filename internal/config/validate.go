package config

import (
	"errors"
	"fmt"

	"github.com/nmoreno/subastas-monitor/internal/store"
)

// Validate checks that all required fields are set and values are valid.
func (c *MonitorConfig) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for the sqlite backend")
		}
	case "postgres":
		if err := validatePG(&c.Store.Postgres, "store.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.backend must be sqlite or postgres, got %q", c.Store.Backend)
	}

	if c.Collector.MinPollSeconds <= 0 {
		return errors.New("collector.min_poll_seconds must be > 0")
	}
	if c.Collector.PollSeconds < c.Collector.MinPollSeconds {
		return fmt.Errorf("collector.poll_seconds (%g) cannot be below min_poll_seconds (%g)",
			c.Collector.PollSeconds, c.Collector.MinPollSeconds)
	}
	if c.Collector.MaxPollSeconds < c.Collector.PollSeconds {
		return fmt.Errorf("collector.max_poll_seconds (%g) cannot be below poll_seconds (%g)",
			c.Collector.MaxPollSeconds, c.Collector.PollSeconds)
	}
	if c.Collector.Concurrency < 1 {
		return errors.New("collector.concurrency must be >= 1")
	}
	if c.Collector.SessionExpiryThreshold < 1 {
		return errors.New("collector.session_expiry_threshold must be >= 1")
	}

	if c.Engine.Security.BackoffAt < 1 {
		return errors.New("engine.security.backoff_at must be >= 1")
	}
	if c.Engine.Security.StopAt <= c.Engine.Security.BackoffAt {
		return fmt.Errorf("engine.security.stop_at (%d) must exceed backoff_at (%d)",
			c.Engine.Security.StopAt, c.Engine.Security.BackoffAt)
	}
	if c.Engine.Security.Multiplier < 1 {
		return errors.New("engine.security.multiplier must be >= 1")
	}
	if c.Engine.Security.CeilingSeconds < c.Collector.PollSeconds {
		return fmt.Errorf("engine.security.ceiling_seconds (%g) cannot be below collector.poll_seconds (%g)",
			c.Engine.Security.CeilingSeconds, c.Collector.PollSeconds)
	}

	if c.Queues.RawCapacity < 1 {
		return errors.New("queues.raw_capacity must be >= 1")
	}
	if c.Queues.ProcessedCapacity < 1 {
		return errors.New("queues.processed_capacity must be >= 1")
	}

	if c.UIStream.Listen == "" {
		return errors.New("ui_stream.listen is required")
	}

	return nil
}

func validatePG(db *store.PGConfig, prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
