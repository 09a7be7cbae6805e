package config

import "github.com/nmoreno/subastas-monitor/internal/engine"

// Default values for optional configuration fields.
const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	DefaultStoreBackend = "sqlite"
	DefaultSQLitePath   = "monitor.db"
	DefaultPGPort       = 5432
	DefaultPGSSLMode    = "prefer"
	DefaultPGMaxConns   = 10
	DefaultPGMinConns   = 2

	DefaultPollSeconds            = 2.0
	DefaultMinPollSeconds         = 0.5
	DefaultMaxPollSeconds         = 30.0
	DefaultConcurrency            = 5
	DefaultSessionExpiryThreshold = 5
	DefaultReplaySpeed            = 1.0

	DefaultRawCapacity       = 256
	DefaultProcessedCapacity = 1024

	DefaultUIListen = "127.0.0.1:8765"
	DefaultUIPath   = "/ws"
)

func (c *MonitorConfig) applyDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}

	// Store defaults
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultSQLitePath
	}
	if c.Store.Postgres.Port == 0 {
		c.Store.Postgres.Port = DefaultPGPort
	}
	if c.Store.Postgres.SSLMode == "" {
		c.Store.Postgres.SSLMode = DefaultPGSSLMode
	}
	if c.Store.Postgres.MaxConns == 0 {
		c.Store.Postgres.MaxConns = DefaultPGMaxConns
	}
	if c.Store.Postgres.MinConns == 0 {
		c.Store.Postgres.MinConns = DefaultPGMinConns
	}

	// Collector defaults
	if c.Collector.PollSeconds == 0 {
		c.Collector.PollSeconds = DefaultPollSeconds
	}
	if c.Collector.MinPollSeconds == 0 {
		c.Collector.MinPollSeconds = DefaultMinPollSeconds
	}
	if c.Collector.MaxPollSeconds == 0 {
		c.Collector.MaxPollSeconds = DefaultMaxPollSeconds
	}
	if c.Collector.Concurrency == 0 {
		c.Collector.Concurrency = DefaultConcurrency
	}
	if c.Collector.SessionExpiryThreshold == 0 {
		c.Collector.SessionExpiryThreshold = DefaultSessionExpiryThreshold
	}
	if c.Collector.Speed == 0 {
		c.Collector.Speed = DefaultReplaySpeed
	}

	// Engine defaults
	applyEngineDefaults(&c.Engine, c.Collector.PollSeconds)

	// Queue defaults
	if c.Queues.RawCapacity == 0 {
		c.Queues.RawCapacity = DefaultRawCapacity
	}
	if c.Queues.ProcessedCapacity == 0 {
		c.Queues.ProcessedCapacity = DefaultProcessedCapacity
	}

	// UI stream defaults
	if c.UIStream.Listen == "" {
		c.UIStream.Listen = DefaultUIListen
	}
	if c.UIStream.Path == "" {
		c.UIStream.Path = DefaultUIPath
	}
}

func applyEngineDefaults(e *engine.Config, basePoll float64) {
	def := engine.DefaultConfig()
	if e.BasePollSeconds == 0 {
		e.BasePollSeconds = basePoll
	}
	if e.Security.BackoffAt == 0 {
		e.Security.BackoffAt = def.Security.BackoffAt
	}
	if e.Security.StopAt == 0 {
		e.Security.StopAt = def.Security.StopAt
	}
	if e.Security.Multiplier == 0 {
		e.Security.Multiplier = def.Security.Multiplier
	}
	if e.Security.CeilingSeconds == 0 {
		e.Security.CeilingSeconds = def.Security.CeilingSeconds
	}
	if e.SoundRefractorySeconds == 0 {
		e.SoundRefractorySeconds = def.SoundRefractorySeconds
	}
	if e.ErrorWindowSeconds == 0 {
		e.ErrorWindowSeconds = def.ErrorWindowSeconds
	}
}
