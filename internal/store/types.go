package store

import (
	"context"
	"time"
)

// Auction lifecycle states.
const (
	AuctionRunning = "RUNNING"
	AuctionPaused  = "PAUSED"
	AuctionEnded   = "ENDED"
	AuctionError   = "ERROR"
)

// Auction is one monitored cotización. ProviderID is the bidder's own
// provider id within this auction; it may differ across auctions.
type Auction struct {
	ID     string
	URL    string
	Margin *float64 // normalized fraction, nil when never set
	State  string

	ProviderID string
	RunID      string // uuid of the monitoring run that created the row

	StartedAt    time.Time
	EndedAt      *time.Time
	LastOKAt     *time.Time
	LastHTTPCode int
	ErrorStreak  int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is one renglón of an auction as discovered at capture time.
type LineItem struct {
	AuctionID   string
	ID          string
	Description string
	Quantity    *float64
	RefUnit     *float64
	Budget      *float64
}

// LineItemState is the latest observed market state for a line item. One
// row per (auction, line item); updates overwrite.
type LineItemState struct {
	AuctionID  string
	LineItemID string

	BestText      string
	Best          *float64
	MinToBeatText string
	MinToBeat     *float64
	BudgetText    string
	Budget        *float64

	Message          string
	Signature        string
	LeaderProviderID string
	HTTPStatus       int
	ObservedAt       time.Time
}

// LineItemCosts holds the operator-entered cost parameters for a line item
// plus the engine-derived pricing metrics. User fields survive collector
// restarts; derived fields are rewritten on every cost resolution.
type LineItemCosts struct {
	AuctionID  string
	LineItemID string

	// User fields.
	Unit         string
	Brand        string
	Notes        string
	ExchangeRate *float64 // ARS per USD, nil disables the USD mirror
	CostUnitARS  *float64
	CostTotalARS *float64
	CostUnitUSD  *float64
	CostTotalUSD *float64
	Quantity     *float64
	// ItemsPerRenglon divides Quantity into the equivalent quantity. Values
	// <= 0 are treated as 1 by the engine.
	ItemsPerRenglon float64
	MinMargin       *float64 // fraction, e.g. 0.05 for 5%

	Tracked            bool
	MyOffer            bool
	HideBelowThreshold bool

	// Derived fields, engine-written.
	PriceUnitAcceptable  *float64
	PriceTotalAcceptable *float64
	PriceRefUnit         *float64
	RentaRef             *float64
	PriceUnitMejora      *float64
	RentaParaMejorar     *float64

	UpdatedAt time.Time
}

// EventRow is one persisted event. Payload carries the event's JSON
// encoding verbatim.
type EventRow struct {
	ID         int64
	AuctionID  string
	LineItemID string
	Level      string
	Type       string
	Message    string
	Payload    string
	CreatedAt  time.Time
}

// Store is the persistence boundary. All methods are safe for concurrent
// use; implementations serialize writes internally.
type Store interface {
	UpsertAuction(ctx context.Context, a Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	SetAuctionState(ctx context.Context, auctionID, state string) error
	// SetAuctionHealth records the outcome of the latest tick: HTTP code,
	// consecutive error streak, and the last-ok timestamp when ok.
	SetAuctionHealth(ctx context.Context, auctionID string, httpCode, errorStreak int, ok bool) error

	UpsertLineItem(ctx context.Context, li LineItem) error
	ListLineItems(ctx context.Context, auctionID string) ([]LineItem, error)

	UpsertLineItemState(ctx context.Context, s LineItemState) error
	GetLineItemState(ctx context.Context, auctionID, lineItemID string) (*LineItemState, error)
	ListLineItemStates(ctx context.Context, auctionID string) ([]LineItemState, error)

	PutLineItemCosts(ctx context.Context, c LineItemCosts) error
	GetLineItemCosts(ctx context.Context, auctionID, lineItemID string) (*LineItemCosts, error)
	ListLineItemCosts(ctx context.Context, auctionID string) ([]LineItemCosts, error)

	AppendEvent(ctx context.Context, e EventRow) (int64, error)
	ListEvents(ctx context.Context, auctionID string, limit int) ([]EventRow, error)

	GetUIConfig(ctx context.Context, key string) (string, bool, error)
	SetUIConfig(ctx context.Context, key, value string) error

	// CleanupLogs deletes the event log of one auction.
	CleanupLogs(ctx context.Context, auctionID string) (int64, error)
	// CleanupStates deletes observed states of one auction, keeping line
	// items and costs.
	CleanupStates(ctx context.Context, auctionID string) (int64, error)
	// CleanupAll deletes every row belonging to one auction.
	CleanupAll(ctx context.Context, auctionID string) error

	Close() error
}
