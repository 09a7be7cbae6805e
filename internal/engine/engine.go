package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/money"
	"github.com/nmoreno/subastas-monitor/internal/queue"
	"github.com/nmoreno/subastas-monitor/internal/store"
)

// StopReasonStore is the reason attached to a stop caused by persistent
// store failure.
const StopReasonStore = "store failure"

// Config holds engine tuning.
type Config struct {
	// BasePollSeconds is the collector's configured interval, restored
	// after a backoff once a tick succeeds.
	BasePollSeconds float64 `yaml:"base_poll_seconds"`
	Security        Policy  `yaml:"security"`
	// SoundRefractorySeconds debounces per-line-item sound cues.
	SoundRefractorySeconds float64 `yaml:"sound_refractory_seconds"`
	// ErrorWindowSeconds collapses identical HTTP errors in the log.
	ErrorWindowSeconds float64 `yaml:"error_window_seconds"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BasePollSeconds:        2.0,
		Security:               DefaultPolicy(),
		SoundRefractorySeconds: 5.0,
		ErrorWindowSeconds:     60.0,
	}
}

// Engine consumes the raw event queue: persist, derive, decide, emit.
type Engine struct {
	cfg     Config
	store   store.Store
	in      *queue.Bounded[event.Event]
	out     *queue.Bounded[event.Event]
	control *queue.Control
	logger  *slog.Logger

	runID     string
	auctionID string

	alerts *alertDecider
	agg    *aggregator

	// Latest persisted state per line item. Costs are re-read from the
	// store on every update because the operator edits them externally.
	states map[string]*store.LineItemState

	streak        int
	currInterval  float64
	backedOff     bool
	errorThisTick bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New creates an engine over its two queues and the collector control
// queue.
func New(cfg Config, st store.Store, in, out *queue.Bounded[event.Event], control *queue.Control, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BasePollSeconds <= 0 {
		cfg.BasePollSeconds = DefaultConfig().BasePollSeconds
	}
	return &Engine{
		cfg:          cfg,
		store:        st,
		in:           in,
		out:          out,
		control:      control,
		logger:       logger,
		runID:        uuid.NewString(),
		alerts:       newAlertDecider(time.Duration(cfg.SoundRefractorySeconds * float64(time.Second))),
		agg:          newAggregator(time.Duration(cfg.ErrorWindowSeconds * float64(time.Second))),
		states:       make(map[string]*store.LineItemState),
		currInterval: cfg.BasePollSeconds,
		done:         make(chan struct{}),
	}
}

// Done is closed when the consumer loop exits, on shutdown or after a
// terminal event (END, STOP, unrecoverable store failure).
func (e *Engine) Done() <-chan struct{} { return e.done }

// Start launches the consumer loop.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run()

	e.logger.Info("engine started", "run_id", e.runID)
	return nil
}

// Stop cancels the loop and waits for it to drain.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer e.wg.Done()
	defer close(e.done)
	defer e.out.Close()

	for {
		ev, ok := e.in.Receive(e.ctx)
		if !ok {
			return
		}
		if !e.handle(ev) {
			return
		}
	}
}

// handle processes one raw event. Returns false when the loop must exit
// (terminal event or unrecoverable store failure).
func (e *Engine) handle(ev event.Event) bool {
	if ev.Type != event.TypeHeartbeat {
		if err := e.persistEvent(ev); err != nil {
			return e.storeFailure(err)
		}
	}

	switch ev.Type {
	case event.TypeSnapshot:
		return e.handleSnapshot(ev)
	case event.TypeUpdate:
		return e.handleUpdate(ev)
	case event.TypeHeartbeat:
		return e.handleHeartbeat(ev)
	case event.TypeHTTPError:
		return e.handleHTTPError(ev)
	case event.TypeEnd:
		return e.handleEnd(ev)
	case event.TypeStop:
		e.emit(ev)
		e.logger.Info("collector stopped", "reason", ev.Message)
		return false
	case event.TypeLog:
		e.emit(ev)
		return true
	default:
		// Closed type set; anything else is a programming error.
		panic(fmt.Sprintf("engine: unknown inbound event type %q", ev.Type))
	}
}

func (e *Engine) handleSnapshot(ev event.Event) bool {
	snap := ev.Snapshot
	if snap == nil {
		e.logger.Warn("snapshot event without payload")
		return true
	}
	e.auctionID = ev.AuctionID

	var margin *float64
	if v := money.Parse(snap.Margin); v != nil {
		m := NormalizeMargin(*v)
		margin = &m
	}

	err := e.write(func() error {
		return e.store.UpsertAuction(e.ctx, store.Auction{
			ID:     ev.AuctionID,
			URL:    snap.AuctionURL,
			Margin: margin,
			State:  store.AuctionRunning,
			RunID:  e.runID,
		})
	})
	if err != nil {
		return e.storeFailure(err)
	}

	for _, item := range snap.Items {
		li := store.LineItem{
			AuctionID:   ev.AuctionID,
			ID:          item.LineItemID,
			Description: item.Description,
			Quantity:    item.Quantity,
			RefUnit:     item.RefUnit,
			Budget:      item.Budget,
		}
		if err := e.write(func() error { return e.store.UpsertLineItem(e.ctx, li) }); err != nil {
			return e.storeFailure(err)
		}
	}
	for _, obs := range snap.Observations {
		st := e.stateFromObservation(ev.AuctionID, obs)
		if err := e.write(func() error { return e.store.UpsertLineItemState(e.ctx, st) }); err != nil {
			return e.storeFailure(err)
		}
		cached := st
		e.states[obs.LineItemID] = &cached
	}

	start := event.New(event.LevelInfo, event.TypeStart, ev.AuctionID, "monitoreo iniciado")
	if err := e.persistEvent(start); err != nil {
		return e.storeFailure(err)
	}
	if !e.emit(start) {
		return false
	}
	return e.emit(ev)
}

func (e *Engine) handleUpdate(ev event.Event) bool {
	obs := ev.Update
	if obs == nil {
		e.logger.Warn("update event without payload")
		return true
	}

	prev := e.states[obs.LineItemID]
	curr := e.stateFromObservation(ev.AuctionID, *obs)

	// Line items can appear mid-run (portal adds no rows, but replay
	// scenarios may); make sure the parent row exists.
	if prev == nil {
		li := store.LineItem{AuctionID: ev.AuctionID, ID: obs.LineItemID, Description: obs.Description}
		if err := e.write(func() error { return e.store.UpsertLineItem(e.ctx, li) }); err != nil {
			return e.storeFailure(err)
		}
	}

	if err := e.write(func() error { return e.store.UpsertLineItemState(e.ctx, curr) }); err != nil {
		return e.storeFailure(err)
	}
	cached := curr
	e.states[obs.LineItemID] = &cached

	// Costs are operator-owned; read fresh, derive, write back.
	var costs *store.LineItemCosts
	err := e.write(func() error {
		var err error
		costs, err = e.store.GetLineItemCosts(e.ctx, ev.AuctionID, obs.LineItemID)
		return err
	})
	if err != nil {
		return e.storeFailure(err)
	}
	if costs != nil {
		warnings := deriveCosts(costs, &curr)
		if err := e.write(func() error { return e.store.PutLineItemCosts(e.ctx, *costs) }); err != nil {
			return e.storeFailure(err)
		}
		for _, w := range warnings {
			lg := event.New(event.LevelWarn, event.TypeLog, ev.AuctionID, w)
			if err := e.persistEvent(lg); err != nil {
				return e.storeFailure(err)
			}
			if !e.emit(lg) {
				return false
			}
		}
	}

	if !e.emit(ev) {
		return false
	}

	alert := e.alerts.decide(alertInput{
		Prev:         prev,
		Curr:         curr,
		Costs:        costs,
		MyProviderID: e.providerID(),
	})
	alertEv := event.New(event.LevelInfo, event.TypeAlert, ev.AuctionID, alert.Message)
	alertEv.Alert = &alert
	if err := e.persistEvent(alertEv); err != nil {
		return e.storeFailure(err)
	}
	return e.emit(alertEv)
}

func (e *Engine) handleHeartbeat(ev event.Event) bool {
	hb := ev.Heartbeat
	if hb == nil {
		return true
	}

	if !e.errorThisTick {
		if e.streak > 0 || e.backedOff {
			// Success resets the streak and restores the base interval.
			e.streak = 0
			if e.backedOff {
				e.backedOff = false
				e.currInterval = e.cfg.BasePollSeconds
				if e.control != nil {
					e.control.Post(queue.Command{Kind: queue.CmdSetPoll, Seconds: e.cfg.BasePollSeconds})
				}
				e.logger.Info("error streak cleared, poll interval restored",
					"seconds", e.cfg.BasePollSeconds)
			}
		}
		if e.auctionID != "" {
			if err := e.write(func() error {
				return e.store.SetAuctionHealth(e.ctx, e.auctionID, 200, 0, true)
			}); err != nil {
				return e.storeFailure(err)
			}
		}
	}
	e.errorThisTick = false

	if summary := e.agg.heartbeat(*hb); summary != nil {
		summary.AuctionID = e.auctionID
		if err := e.persistEvent(*summary); err != nil {
			return e.storeFailure(err)
		}
		return e.emit(*summary)
	}
	return true
}

func (e *Engine) handleHTTPError(ev event.Event) bool {
	he := ev.HTTPError
	if he == nil {
		return true
	}
	e.errorThisTick = true

	if he.SessionExpired {
		// Not a storm: the session died and only a recapture helps. The
		// auction stays RUNNING awaiting it.
		e.logger.Error("session expired", "status", he.Status, "id_renglon", he.LineItemID)
		return e.emit(ev)
	}

	e.streak++
	if e.auctionID != "" {
		if err := e.write(func() error {
			return e.store.SetAuctionHealth(e.ctx, e.auctionID, he.Status, e.streak, false)
		}); err != nil {
			return e.storeFailure(err)
		}
	}

	logNow, summary := e.agg.httpError(*he)
	if logNow {
		if !e.emit(ev) {
			return false
		}
	}
	if summary != nil {
		summary.AuctionID = e.auctionID
		if err := e.persistEvent(*summary); err != nil {
			return e.storeFailure(err)
		}
		if !e.emit(*summary) {
			return false
		}
	}

	action, newInterval, reason := e.cfg.Security.Evaluate(e.streak, e.currInterval)
	switch action {
	case event.SecurityBackoff:
		e.backedOff = true
		e.currInterval = newInterval
		if e.control != nil {
			e.control.Post(queue.Command{Kind: queue.CmdBackoff, Seconds: newInterval})
		}
		sec := event.New(event.LevelWarn, event.TypeSecurity, e.auctionID, "backoff por errores consecutivos")
		sec.Security = &event.Security{
			Action:         event.SecurityBackoff,
			NewPollSeconds: newInterval,
			ErrorStreak:    e.streak,
		}
		if err := e.persistEvent(sec); err != nil {
			return e.storeFailure(err)
		}
		return e.emit(sec)

	case event.SecurityStop:
		if e.control != nil {
			e.control.Post(queue.Command{Kind: queue.CmdStop, Reason: reason})
		}
		if err := e.write(func() error {
			return e.store.SetAuctionState(e.ctx, e.auctionID, store.AuctionError)
		}); err != nil {
			return e.storeFailure(err)
		}
		sec := event.New(event.LevelError, event.TypeSecurity, e.auctionID, reason)
		sec.Security = &event.Security{
			Action:      event.SecurityStop,
			Reason:      reason,
			ErrorStreak: e.streak,
		}
		if err := e.persistEvent(sec); err != nil {
			return e.storeFailure(err)
		}
		return e.emit(sec)
	}
	return true
}

func (e *Engine) handleEnd(ev event.Event) bool {
	if e.auctionID != "" {
		if err := e.write(func() error {
			return e.store.SetAuctionState(e.ctx, e.auctionID, store.AuctionEnded)
		}); err != nil {
			return e.storeFailure(err)
		}
	}
	e.emit(ev)
	e.logger.Info("auction ended", "id_cot", e.auctionID)
	return false
}

// providerID reads the bidder's provider id for the current auction.
func (e *Engine) providerID() string {
	if e.auctionID == "" {
		return ""
	}
	a, err := e.store.GetAuction(e.ctx, e.auctionID)
	if err != nil || a == nil {
		return ""
	}
	return a.ProviderID
}

func (e *Engine) stateFromObservation(auctionID string, obs event.Observation) store.LineItemState {
	var leaderID string
	if leader := event.Leader(obs.Offers); leader != nil {
		leaderID = leader.ProviderID
	}
	return store.LineItemState{
		AuctionID:        auctionID,
		LineItemID:       obs.LineItemID,
		BestText:         obs.BestText,
		Best:             obs.Best,
		MinToBeatText:    obs.MinToBeatText,
		MinToBeat:        obs.MinToBeat,
		BudgetText:       obs.BudgetText,
		Budget:           obs.Budget,
		Message:          obs.Message,
		Signature:        obs.Signature(),
		LeaderProviderID: leaderID,
		HTTPStatus:       obs.HTTPStatus,
		ObservedAt:       time.Now().UTC(),
	}
}

// persistEvent appends one event to the audit log.
func (e *Engine) persistEvent(ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	var lineItemID string
	switch {
	case ev.Update != nil:
		lineItemID = ev.Update.LineItemID
	case ev.Alert != nil:
		lineItemID = ev.Alert.LineItemID
	case ev.HTTPError != nil:
		lineItemID = ev.HTTPError.LineItemID
	}
	return e.write(func() error {
		_, err := e.store.AppendEvent(e.ctx, store.EventRow{
			AuctionID:  ev.AuctionID,
			LineItemID: lineItemID,
			Level:      string(ev.Level),
			Type:       string(ev.Type),
			Message:    ev.Message,
			Payload:    string(payload),
			CreatedAt:  ev.Time,
		})
		return err
	})
}

// write runs a store operation, retrying once on failure.
func (e *Engine) write(op func() error) error {
	if err := op(); err != nil {
		e.logger.Error("store write failed, retrying once", "err", err)
		if err2 := op(); err2 != nil {
			return err2
		}
	}
	return nil
}

// storeFailure escalates a persistent store failure: stop the collector,
// flag the auction, emit a STOP, and exit the loop.
func (e *Engine) storeFailure(err error) bool {
	e.logger.Error("store failure, stopping", "err", err)
	if e.control != nil {
		e.control.Post(queue.Command{Kind: queue.CmdStop, Reason: StopReasonStore})
	}
	if e.auctionID != "" {
		// Best effort; the store may be gone entirely.
		_ = e.store.SetAuctionState(e.ctx, e.auctionID, store.AuctionError)
	}
	stop := event.New(event.LevelError, event.TypeStop, e.auctionID, StopReasonStore)
	e.emit(stop)
	return false
}

// emit pushes a processed event toward the UI, honoring backpressure.
func (e *Engine) emit(ev event.Event) bool {
	ok, err := e.out.Send(e.ctx, ev)
	return ok && err == nil
}
