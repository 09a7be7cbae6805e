package event

import (
	"strings"
	"time"
)

// Level is the severity attached to an event.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Type identifies the semantic kind of an event. The set is closed; the
// engine treats an unknown type as a programming error.
type Type string

const (
	TypeStart     Type = "START"
	TypeStop      Type = "STOP"
	TypeEnd       Type = "END"
	TypeSnapshot  Type = "SNAPSHOT"
	TypeUpdate    Type = "UPDATE"
	TypeHeartbeat Type = "HEARTBEAT"
	TypeHTTPError Type = "HTTP_ERROR"
	TypeAlert     Type = "ALERT"
	TypeSecurity  Type = "SECURITY"
	TypeLog       Type = "LOG"
)

// leaderMarker is the substring the portal puts on the offer that currently
// holds the lead ("Mejor Oferta Vigente" vs "Superada").
const leaderMarker = "Vigente"

// Offer is one row of the offer book for a line item, exactly as the portal
// reported it. All ids are opaque strings; leading zeros are significant.
type Offer struct {
	OfferID    string  `json:"offer_id"`
	ProviderID string  `json:"provider_id"`
	Provider   string  `json:"provider"`
	Monto      float64 `json:"monto"`
	MontoText  string  `json:"monto_text"`
	Hora       string  `json:"hora"` // HH:MM:SS as sent by the portal
	Label      string  `json:"label"`
}

// IsLeader reports whether the portal marked this offer as the current
// leader.
func (o Offer) IsLeader() bool {
	return strings.Contains(o.Label, leaderMarker)
}

// Leader returns the current leading offer: the one whose label carries the
// leader marker, or failing that the lowest monto (ties broken by the
// earlier hora). Returns nil for an empty book.
func Leader(offers []Offer) *Offer {
	for i := range offers {
		if offers[i].IsLeader() {
			return &offers[i]
		}
	}

	var best *Offer
	for i := range offers {
		o := &offers[i]
		switch {
		case best == nil:
			best = o
		case o.Monto < best.Monto:
			best = o
		case o.Monto == best.Monto && o.Hora < best.Hora:
			best = o
		}
	}
	return best
}

// Observation is the normalized per-line-item record the collector produces
// on every tick. Numeric fields are nil when the portal omitted them.
type Observation struct {
	LineItemID  string  `json:"id_renglon"`
	Description string  `json:"description"`
	Offers      []Offer `json:"offers,omitempty"`

	Best          *float64 `json:"best,omitempty"`
	BestText      string   `json:"best_text"`
	MinToBeat     *float64 `json:"min_to_beat,omitempty"`
	MinToBeatText string   `json:"min_to_beat_text"`
	Budget        *float64 `json:"budget,omitempty"`
	BudgetText    string   `json:"budget_text"`

	Message    string `json:"message"`
	Finalized  bool   `json:"finalized"`
	HTTPStatus int    `json:"http_status"` // 200 when synthetic
}

// Signature is the change-detection key for an observation. Two
// observations with equal signatures are suppressed as duplicates.
func (o Observation) Signature() string {
	var b strings.Builder
	b.WriteString(o.BestText)
	b.WriteByte('|')
	b.WriteString(o.MinToBeatText)
	b.WriteByte('|')
	b.WriteString(o.BudgetText)
	b.WriteByte('|')
	b.WriteString(o.Message)
	if o.Finalized {
		b.WriteString("|fin")
	}
	return b.String()
}

// SnapshotItem is one line item as seen during the capture pass. Quantity
// and budget come from the auction detail table when it is present.
type SnapshotItem struct {
	LineItemID  string   `json:"id_renglon"`
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	RefUnit     *float64 `json:"ref_unit,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
}

// Snapshot is emitted exactly once when a collector starts, before any
// UPDATE.
type Snapshot struct {
	AuctionURL   string         `json:"auction_url"`
	Margin       string         `json:"margin"` // raw portal text, may be empty
	Items        []SnapshotItem `json:"items"`
	Observations []Observation  `json:"observations,omitempty"`
}

// Heartbeat is emitted exactly once per collector tick.
type Heartbeat struct {
	Tick    int     `json:"tick"`
	Elapsed float64 `json:"elapsed_seconds"`
}

// HTTPError describes a failed tick or a failed per-item request.
type HTTPError struct {
	Status         int    `json:"status"`
	Message        string `json:"message"`
	LineItemID     string `json:"id_renglon,omitempty"`
	SessionExpired bool   `json:"session_expired,omitempty"`
}

// Style is the logical row style the UI maps to colors.
type Style string

const (
	StyleNormal    Style = "NORMAL"
	StyleTracked   Style = "TRACKED"
	StyleAlertUp   Style = "ALERT_UP"
	StyleAlertDown Style = "ALERT_DOWN"
	StyleWinner    Style = "WINNER"
	StyleLoser     Style = "LOSER"
)

// Sound is the logical sound cue the UI maps to audio files.
type Sound string

const (
	SoundNone    Sound = "NONE"
	SoundAlert   Sound = "ALERT"
	SoundSuccess Sound = "SUCCESS"
	SoundError   Sound = "ERROR"
)

// Alert is the engine's decision for one line item after an update.
type Alert struct {
	LineItemID string `json:"id_renglon"`
	Style      Style  `json:"style"`
	Tracked    bool   `json:"tracked"`
	Sound      Sound  `json:"sound"`
	Hide       bool   `json:"hide"`
	Message    string `json:"message"`
}

// SecurityAction is what the security policy asked the collector to do.
type SecurityAction string

const (
	SecurityNone    SecurityAction = "NONE"
	SecurityBackoff SecurityAction = "BACKOFF"
	SecurityStop    SecurityAction = "STOP"
)

// Security carries a backoff or stop order from the engine.
type Security struct {
	Action         SecurityAction `json:"action"`
	NewPollSeconds float64        `json:"new_poll_seconds,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	ErrorStreak    int            `json:"error_streak"`
}

// Event is the tagged record that crosses every queue boundary. Exactly one
// payload pointer is set for the types that carry one.
type Event struct {
	Level     Level     `json:"level"`
	Type      Type      `json:"type"`
	AuctionID string    `json:"id_cot,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`

	Snapshot  *Snapshot    `json:"snapshot,omitempty"`
	Update    *Observation `json:"update,omitempty"`
	Heartbeat *Heartbeat   `json:"heartbeat,omitempty"`
	HTTPError *HTTPError   `json:"http_error,omitempty"`
	Alert     *Alert       `json:"alert,omitempty"`
	Security  *Security    `json:"security,omitempty"`
}

// New builds an event stamped with the current time.
func New(level Level, typ Type, auctionID, message string) Event {
	return Event{
		Level:     level,
		Type:      typ,
		AuctionID: auctionID,
		Message:   message,
		Time:      time.Now(),
	}
}
