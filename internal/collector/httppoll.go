package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/portal"
	"github.com/nmoreno/subastas-monitor/internal/queue"
)

// HTTPPollConfig tunes the direct polling loop.
type HTTPPollConfig struct {
	PollSeconds    float64
	MinPollSeconds float64
	MaxPollSeconds float64

	// Intensive polls every line item on every tick. Off, the loop rotates
	// through one line item per tick to stay light on the portal.
	Intensive bool

	// Concurrency bounds in-flight BuscarOfertas requests per tick.
	Concurrency int64

	// SessionExpiryThreshold is how many consecutive 401/403 responses mean
	// the captured cookies are dead.
	SessionExpiryThreshold int
}

// DefaultHTTPPollConfig returns the polling defaults.
func DefaultHTTPPollConfig() HTTPPollConfig {
	return HTTPPollConfig{
		PollSeconds:            2.0,
		MinPollSeconds:         0.5,
		MaxPollSeconds:         30.0,
		Intensive:              true,
		Concurrency:            5,
		SessionExpiryThreshold: 5,
	}
}

// HTTPPoll polls BuscarOfertas directly with a captured session.
type HTTPPoll struct {
	cfg     HTTPPollConfig
	session portal.Session
	client  *portal.Client
	out     *emitter
	control *queue.Control
	logger  *slog.Logger

	tracker  *changeTracker
	sem      *semaphore.Weighted
	tickDur  time.Duration
	active   bool
	rotation int
	expired  int // consecutive 401/403 responses

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Collector = (*HTTPPoll)(nil)

// NewHTTPPoll creates a polling collector over a captured session.
func NewHTTPPoll(cfg HTTPPollConfig, session portal.Session, client *portal.Client, out *queue.Bounded[event.Event], control *queue.Control, logger *slog.Logger) *HTTPPoll {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.SessionExpiryThreshold < 1 {
		cfg.SessionExpiryThreshold = 5
	}
	h := &HTTPPoll{
		cfg:     cfg,
		session: session,
		client:  client,
		out:     &emitter{out: out, auctionID: session.IDCot},
		control: control,
		logger:  logger,
		tracker: newChangeTracker(),
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		tickDur: time.Duration(cfg.PollSeconds * float64(time.Second)),
		active:  true,
	}
	h.applyTimeout()
	return h
}

// applyTimeout matches the client's request deadline to the polling mode.
func (h *HTTPPoll) applyTimeout() {
	if h.client == nil {
		return
	}
	if h.cfg.Intensive {
		h.client.SetTimeout(portal.IntensiveTimeout)
	} else {
		h.client.SetTimeout(portal.DefaultTimeout)
	}
}

// Start launches the poll loop.
func (h *HTTPPoll) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)

	h.wg.Add(1)
	go h.run()

	h.logger.Info("http poll collector started",
		"id_cot", h.session.IDCot,
		"items", len(h.session.Items),
		"poll_seconds", h.cfg.PollSeconds,
		"intensive", h.cfg.Intensive,
		"concurrency", h.cfg.Concurrency,
	)
	return nil
}

// Stop cancels the loop and waits for in-flight requests.
func (h *HTTPPoll) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("http poll collector stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HTTPPoll) run() {
	defer h.wg.Done()

	snap := event.Snapshot{
		AuctionURL: h.session.AuctionURL,
		Margin:     h.session.Margin,
	}
	for _, it := range h.session.Items {
		snap.Items = append(snap.Items, event.SnapshotItem{
			LineItemID:  it.ID,
			Description: it.Description,
		})
	}
	ev := event.New(event.LevelInfo, event.TypeSnapshot, "", "http poll")
	ev.Snapshot = &snap
	if !h.out.emit(h.ctx, ev) {
		return
	}

	start := time.Now()
	for tick := 1; ; tick++ {
		if stop := h.handleCommands(); stop {
			return
		}

		var ended, dead bool
		if h.active {
			ended, dead = h.pollTick()
		}

		hb := event.New(event.LevelDebug, event.TypeHeartbeat, "", "")
		hb.Heartbeat = &event.Heartbeat{Tick: tick, Elapsed: time.Since(start).Seconds()}
		if !h.out.emit(h.ctx, hb) {
			return
		}

		if ended {
			end := event.New(event.LevelInfo, event.TypeEnd, "", "subasta finalizada")
			h.out.emit(h.ctx, end)
			return
		}
		if dead {
			return
		}

		if !h.sleepTick() {
			return
		}
	}
}

type pollResult struct {
	item portal.ItemRef
	resp portal.Response
	err  error
}

// pollTick fetches the tick's line items and emits the resulting events.
// ended means the portal announced the auction end; dead means the session
// expired and the loop must stop.
func (h *HTTPPoll) pollTick() (ended, dead bool) {
	items := h.session.Items
	if !h.cfg.Intensive && len(items) > 0 {
		items = []portal.ItemRef{items[h.rotation%len(items)]}
		h.rotation++
	}

	results := make([]pollResult, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		if err := h.sem.Acquire(h.ctx, 1); err != nil {
			return false, false
		}
		wg.Add(1)
		go func(i int, item portal.ItemRef) {
			defer wg.Done()
			defer h.sem.Release(1)
			resp, err := h.client.BuscarOfertas(h.ctx, h.session.IDCot, item.ID, h.session.Margin)
			results[i] = pollResult{item: item, resp: resp, err: err}
		}(i, item)
	}
	wg.Wait()

	for _, res := range results {
		if res.err != nil {
			// A malformed payload means the portal answered; skip the line
			// item without touching the error streak.
			var parseErr *portal.ParseError
			if errors.As(res.err, &parseErr) {
				h.expired = 0
				h.logger.Warn("respuesta no parseable",
					"id_renglon", res.item.ID, "err", res.err)
				continue
			}
			if h.emitError(res) {
				return false, true
			}
			continue
		}
		h.expired = 0

		obs := res.resp.Observation(res.item.ID, res.item.Description, 200)
		if res.resp.Finalized() {
			ended = true
		}
		if !h.tracker.Changed(obs) {
			continue
		}
		ev := event.New(event.LevelInfo, event.TypeUpdate, "", "")
		ev.Update = &obs
		if !h.out.emit(h.ctx, ev) {
			return ended, false
		}
	}
	return ended, false
}

// emitError reports one failed request. Returns true when the session
// expiry threshold is reached and the loop must stop.
func (h *HTTPPoll) emitError(res pollResult) bool {
	var statusErr *portal.StatusError
	if errors.As(res.err, &statusErr) && statusErr.SessionExpired() {
		h.expired++
		if h.expired >= h.cfg.SessionExpiryThreshold {
			ev := event.New(event.LevelError, event.TypeHTTPError, "", "sesión expirada")
			ev.HTTPError = &event.HTTPError{
				Status:         statusErr.Status,
				Message:        "session expired after consecutive auth failures",
				LineItemID:     res.item.ID,
				SessionExpired: true,
			}
			h.out.emit(h.ctx, ev)
			h.logger.Error("session expired, stopping http poll",
				"consecutive", h.expired, "id_renglon", res.item.ID)
			return true
		}
	} else {
		h.expired = 0
	}

	ev := event.New(event.LevelError, event.TypeHTTPError, "", res.err.Error())
	he := &event.HTTPError{Message: res.err.Error(), LineItemID: res.item.ID}
	if statusErr != nil {
		he.Status = statusErr.Status
	}
	ev.HTTPError = he
	h.out.emit(h.ctx, ev)
	return false
}

func (h *HTTPPoll) handleCommands() bool {
	if h.control == nil {
		return false
	}
	for _, cmd := range h.control.Drain() {
		switch cmd.Kind {
		case queue.CmdStop:
			ev := event.New(event.LevelInfo, event.TypeStop, "", cmd.Reason)
			h.out.emit(h.ctx, ev)
			return true
		case queue.CmdSetPoll, queue.CmdBackoff:
			h.setPollSeconds(cmd.Seconds)
		case queue.CmdSetIntensive:
			h.cfg.Intensive = cmd.Enabled
			h.applyTimeout()
			h.logger.Info("intensive monitoring", "enabled", cmd.Enabled)
		case queue.CmdSetHTTPMode:
			h.active = cmd.Enabled
			h.logger.Info("http monitoring", "active", cmd.Enabled)
		case queue.CmdCapture:
			h.tracker.Reset()
		}
	}
	return false
}

// setPollSeconds applies the clamped interval.
func (h *HTTPPoll) setPollSeconds(seconds float64) {
	if seconds <= 0 {
		return
	}
	if h.cfg.MinPollSeconds > 0 && seconds < h.cfg.MinPollSeconds {
		seconds = h.cfg.MinPollSeconds
	}
	if h.cfg.MaxPollSeconds > 0 && seconds > h.cfg.MaxPollSeconds {
		seconds = h.cfg.MaxPollSeconds
	}
	h.tickDur = time.Duration(seconds * float64(time.Second))
	h.logger.Info("poll interval changed", "seconds", seconds)
}

func (h *HTTPPoll) sleepTick() bool {
	timer := time.NewTimer(h.tickDur)
	defer timer.Stop()

	var notify <-chan struct{}
	if h.control != nil {
		notify = h.control.Notify()
	}

	for {
		select {
		case <-h.ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-notify:
			if stop := h.handleCommands(); stop {
				return false
			}
		}
	}
}
