package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/portal"
	"github.com/nmoreno/subastas-monitor/internal/queue"
	"github.com/nmoreno/subastas-monitor/internal/scenario"
)

// ReplayConfig tunes playback.
type ReplayConfig struct {
	// Speed multiplies playback rate; 2.0 halves every tick sleep. Zero or
	// negative means real time.
	Speed float64
}

// Replay feeds a recorded scenario through the pipeline. Deterministic:
// the same scenario always yields the same event sequence (timestamps
// aside).
type Replay struct {
	cfg     ReplayConfig
	scn     *scenario.Scenario
	out     *emitter
	control *queue.Control
	logger  *slog.Logger

	tracker *changeTracker
	tickDur time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Collector = (*Replay)(nil)

// NewReplay creates a replay collector over a validated scenario.
func NewReplay(cfg ReplayConfig, scn *scenario.Scenario, out *queue.Bounded[event.Event], control *queue.Control, logger *slog.Logger) *Replay {
	if logger == nil {
		logger = slog.Default()
	}
	speed := cfg.Speed
	if speed <= 0 {
		speed = 1.0
	}
	return &Replay{
		cfg:     cfg,
		scn:     scn,
		out:     &emitter{out: out, auctionID: scn.Subasta.IDCot},
		control: control,
		logger:  logger,
		tracker: newChangeTracker(),
		tickDur: time.Duration(scn.Config.TickDurationSeconds / speed * float64(time.Second)),
	}
}

// Start begins playback.
func (r *Replay) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("replay collector started",
		"scenario", r.scn.Name,
		"id_cot", r.scn.Subasta.IDCot,
		"max_ticks", r.scn.Config.MaxTicks,
		"tick_duration", r.tickDur,
	)
	return nil
}

// Stop cancels playback and waits for the loop to exit.
func (r *Replay) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("replay collector stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Replay) run() {
	defer r.wg.Done()

	if !r.emitSnapshot() {
		return
	}

	start := time.Now()
	for n := 1; n <= r.scn.Config.MaxTicks; n++ {
		if stop := r.handleCommands(); stop {
			return
		}

		ended := r.playTick(n)

		hb := event.New(event.LevelDebug, event.TypeHeartbeat, "", "")
		hb.Heartbeat = &event.Heartbeat{Tick: n, Elapsed: time.Since(start).Seconds()}
		if !r.out.emit(r.ctx, hb) {
			return
		}

		if ended {
			end := event.New(event.LevelInfo, event.TypeEnd, "", "subasta finalizada")
			r.out.emit(r.ctx, end)
			return
		}

		if !r.sleepTick() {
			return
		}
	}

	r.logger.Info("replay exhausted", "ticks", r.scn.Config.MaxTicks)
}

// emitSnapshot builds the initial snapshot from the first timeline entry
// and seeds the change tracker so an identical first tick stays silent.
func (r *Replay) emitSnapshot() bool {
	first := r.scn.First()

	snap := event.Snapshot{AuctionURL: r.scn.Subasta.URL}
	if first != nil && first.Status == 200 {
		for _, rg := range first.Renglones {
			snap.Items = append(snap.Items, event.SnapshotItem{
				LineItemID:  rg.IDRenglon,
				Description: rg.Descripcion,
			})
			resp, err := portal.ParseResponse(rg.ResponseJSON.D)
			if err != nil {
				r.logger.Warn("snapshot entry unparseable", "id_renglon", rg.IDRenglon, "err", err)
				continue
			}
			obs := resp.Observation(rg.IDRenglon, rg.Descripcion, first.Status)
			r.tracker.Seed(obs)
			snap.Observations = append(snap.Observations, obs)
		}
	}

	ev := event.New(event.LevelInfo, event.TypeSnapshot, "", "replay: "+r.scn.Name)
	ev.Snapshot = &snap
	return r.out.emit(r.ctx, ev)
}

// playTick emits the tick's UPDATE or HTTP_ERROR events and reports
// whether the auction ended on this tick.
func (r *Replay) playTick(n int) bool {
	entry := r.scn.EntryFor(n)
	if entry == nil {
		return false
	}

	// An error entry fails only its own tick. Gap ticks that fall under it
	// replay the last good state instead, which the change tracker keeps
	// silent.
	if entry.Status != 200 {
		if entry.Tick == n {
			msg := entry.ErrorMessage
			if msg == "" {
				msg = fmt.Sprintf("http %d", entry.Status)
			}
			ev := event.New(event.LevelError, event.TypeHTTPError, "", msg)
			ev.HTTPError = &event.HTTPError{Status: entry.Status, Message: msg}
			r.out.emit(r.ctx, ev)
			return false
		}
		entry = r.scn.LastOK(n)
		if entry == nil {
			return false
		}
	}

	ended := entry.Event == scenario.EventEndAuction
	for _, rg := range entry.Renglones {
		resp, err := portal.ParseResponse(rg.ResponseJSON.D)
		if err != nil {
			r.logger.Warn("tick entry unparseable", "tick", n, "id_renglon", rg.IDRenglon, "err", err)
			continue
		}
		obs := resp.Observation(rg.IDRenglon, rg.Descripcion, entry.Status)
		if resp.Finalized() {
			ended = true
		}
		if !r.tracker.Changed(obs) {
			continue
		}
		ev := event.New(event.LevelInfo, event.TypeUpdate, "", "")
		ev.Update = &obs
		if !r.out.emit(r.ctx, ev) {
			return ended
		}
	}
	return ended
}

// handleCommands drains the control queue. Returns true when the loop
// must terminate.
func (r *Replay) handleCommands() bool {
	if r.control == nil {
		return false
	}
	for _, cmd := range r.control.Drain() {
		switch cmd.Kind {
		case queue.CmdStop:
			ev := event.New(event.LevelInfo, event.TypeStop, "", cmd.Reason)
			r.out.emit(r.ctx, ev)
			return true
		case queue.CmdSetPoll, queue.CmdBackoff:
			if cmd.Seconds > 0 {
				r.tickDur = time.Duration(cmd.Seconds * float64(time.Second))
				r.logger.Info("replay tick duration changed", "seconds", cmd.Seconds)
			}
		case queue.CmdCapture:
			// Force a full re-emit on the next tick.
			r.tracker.Reset()
		}
	}
	return false
}

// sleepTick waits one tick, waking early for control commands.
func (r *Replay) sleepTick() bool {
	timer := time.NewTimer(r.tickDur)
	defer timer.Stop()

	var notify <-chan struct{}
	if r.control != nil {
		notify = r.control.Notify()
	}

	for {
		select {
		case <-r.ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-notify:
			if stop := r.handleCommands(); stop {
				return false
			}
		}
	}
}
