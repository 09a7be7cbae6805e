package engine

import "github.com/nmoreno/subastas-monitor/internal/event"

// Policy decides how the collector is throttled under sustained error.
// Pure: no I/O, separately testable.
type Policy struct {
	// BackoffAt is the consecutive-error streak that triggers a backoff.
	BackoffAt int `yaml:"backoff_at"`
	// StopAt is the streak that stops the collector for good.
	StopAt int `yaml:"stop_at"`
	// Multiplier scales the poll interval on each backoff.
	Multiplier float64 `yaml:"multiplier"`
	// CeilingSeconds caps the backed-off interval.
	CeilingSeconds float64 `yaml:"ceiling_seconds"`
}

// DefaultPolicy returns the configured defaults.
func DefaultPolicy() Policy {
	return Policy{
		BackoffAt:      3,
		StopAt:         10,
		Multiplier:     2.0,
		CeilingSeconds: 30.0,
	}
}

// StopReasonStorm is the reason attached to a storm-triggered stop.
const StopReasonStorm = "error storm"

// Evaluate maps the current error streak onto an action. For BACKOFF the
// returned interval is min(prev × multiplier, ceiling) and never below prev.
func (p Policy) Evaluate(streak int, prevIntervalSeconds float64) (event.SecurityAction, float64, string) {
	if streak >= p.StopAt {
		return event.SecurityStop, 0, StopReasonStorm
	}
	if streak >= p.BackoffAt {
		next := prevIntervalSeconds * p.Multiplier
		if next > p.CeilingSeconds {
			next = p.CeilingSeconds
		}
		if next < prevIntervalSeconds {
			next = prevIntervalSeconds
		}
		return event.SecurityBackoff, next, ""
	}
	return event.SecurityNone, 0, ""
}
