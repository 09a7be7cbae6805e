package config

import (
	"github.com/nmoreno/subastas-monitor/internal/engine"
	"github.com/nmoreno/subastas-monitor/internal/store"
)

// MonitorConfig is the root configuration for a monitor instance.
type MonitorConfig struct {
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Collector CollectorConfig `yaml:"collector"`
	Engine    engine.Config   `yaml:"engine"`
	Queues    QueuesConfig    `yaml:"queues"`
	UIStream  UIStreamConfig  `yaml:"ui_stream"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend  string         `yaml:"backend"` // sqlite or postgres
	Path     string         `yaml:"path"`    // sqlite database file
	Postgres store.PGConfig `yaml:"postgres"`
}

// CollectorConfig holds settings shared by the collector variants. The
// replay fields are ignored in live mode and vice versa.
type CollectorConfig struct {
	// Live / browser capture.
	AuctionURL  string `yaml:"auction_url"`
	Headless    bool   `yaml:"headless"`
	SessionPath string `yaml:"session_path"`

	// Replay.
	ScenarioPath string  `yaml:"scenario_path"`
	Speed        float64 `yaml:"speed"`

	// Polling.
	PollSeconds    float64 `yaml:"poll_seconds"`
	MinPollSeconds float64 `yaml:"min_poll_seconds"`
	MaxPollSeconds float64 `yaml:"max_poll_seconds"`
	// Light rotates through one line item per tick instead of polling all
	// of them, to stay gentle on the portal.
	Light                  bool  `yaml:"light"`
	Concurrency            int64 `yaml:"concurrency"`
	SessionExpiryThreshold int   `yaml:"session_expiry_threshold"`
}

// QueuesConfig bounds the two pipeline queues.
type QueuesConfig struct {
	RawCapacity       int `yaml:"raw_capacity"`
	ProcessedCapacity int `yaml:"processed_capacity"`
}

// UIStreamConfig configures the WebSocket event stream.
type UIStreamConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}
