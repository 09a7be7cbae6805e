// Package scenario loads the JSON timeline documents that drive the replay
// collector. A scenario captures real portal responses keyed by tick index,
// making a monitoring run fully reproducible.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
)

// EventEndAuction marks the timeline entry that finalizes the auction.
const EventEndAuction = "end_auction"

// allowedStatuses is the closed set of simulated HTTP statuses.
var allowedStatuses = map[int]bool{200: true, 500: true, 502: true, 503: true}

// ResponseJSON wraps the raw portal payload exactly as captured on the
// wire: a single object with the "d" field.
type ResponseJSON struct {
	D string `json:"d"`
}

// RenglonResponse is one recorded portal response for one line item.
type RenglonResponse struct {
	IDRenglon    string       `json:"id_renglon"`
	Descripcion  string       `json:"descripcion"`
	ResponseJSON ResponseJSON `json:"response_json"`
}

// Entry is one timeline step. Tick indexes are strictly ascending; gaps
// mean "same as the last observed state".
type Entry struct {
	Tick         int               `json:"tick"`
	Hora         string            `json:"hora"` // advisory wall clock, HH:MM:SS
	Status       int               `json:"status"`
	Renglones    []RenglonResponse `json:"renglones,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Event        string            `json:"event,omitempty"`
	Message      string            `json:"message,omitempty"`
}

// Subasta identifies the recorded auction.
type Subasta struct {
	IDCot string `json:"id_cot"`
	URL   string `json:"url"`
}

// Config holds the replay pacing parameters.
type Config struct {
	TickDurationSeconds float64 `json:"tick_duration_seconds"`
	MaxTicks            int     `json:"max_ticks"`
}

// Scenario is a fully validated replay document.
type Scenario struct {
	Name        string  `json:"scenario_name"`
	Description string  `json:"description"`
	Subasta     Subasta `json:"subasta"`
	Config      Config  `json:"config"`
	Timeline    []Entry `json:"timeline"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario json: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the structural rules: required top-level fields, a
// non-empty strictly ascending timeline, and statuses from the allowed set.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario_name is required")
	}
	if s.Subasta.IDCot == "" {
		return fmt.Errorf("subasta.id_cot is required")
	}
	if s.Subasta.URL == "" {
		return fmt.Errorf("subasta.url is required")
	}
	if s.Config.TickDurationSeconds <= 0 {
		return fmt.Errorf("config.tick_duration_seconds must be > 0")
	}
	if s.Config.MaxTicks < 1 {
		return fmt.Errorf("config.max_ticks must be >= 1")
	}
	if len(s.Timeline) == 0 {
		return fmt.Errorf("timeline must not be empty")
	}

	prev := -1
	for i, e := range s.Timeline {
		if e.Tick <= prev {
			return fmt.Errorf("timeline[%d]: tick %d is not strictly ascending (previous %d)", i, e.Tick, prev)
		}
		prev = e.Tick
		if !allowedStatuses[e.Status] {
			return fmt.Errorf("timeline[%d]: status %d not in allowed set", i, e.Status)
		}
		for j, r := range e.Renglones {
			if r.IDRenglon == "" {
				return fmt.Errorf("timeline[%d].renglones[%d]: id_renglon is required", i, j)
			}
			if e.Status == 200 && r.ResponseJSON.D == "" {
				return fmt.Errorf("timeline[%d].renglones[%d]: response_json.d is required", i, j)
			}
		}
	}
	return nil
}

// EntryFor returns the timeline entry governing the given tick: the entry
// with the largest index less than or equal to tick, or nil before the
// first entry.
func (s *Scenario) EntryFor(tick int) *Entry {
	var found *Entry
	for i := range s.Timeline {
		if s.Timeline[i].Tick > tick {
			break
		}
		found = &s.Timeline[i]
	}
	return found
}

// LastOK returns the most recent 200 entry at or before tick, or nil when
// no good state exists yet. Gap ticks after an error entry replay this
// state instead of the error.
func (s *Scenario) LastOK(tick int) *Entry {
	var found *Entry
	for i := range s.Timeline {
		if s.Timeline[i].Tick > tick {
			break
		}
		if s.Timeline[i].Status == 200 {
			found = &s.Timeline[i]
		}
	}
	return found
}

// First returns the earliest timeline entry.
func (s *Scenario) First() *Entry {
	if len(s.Timeline) == 0 {
		return nil
	}
	return &s.Timeline[0]
}
