package collector

import (
	"context"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/queue"
)

// Collector is the common lifecycle contract of every variant.
type Collector interface {
	// Start launches the collection loop. It returns once the loop is
	// running; errors are reported as events on the output queue.
	Start(ctx context.Context) error
	// Stop cancels the loop and waits for it to drain, bounded by ctx.
	Stop(ctx context.Context) error
}

// changeTracker suppresses duplicate observations. The key is the
// observation signature; an unchanged signature means the tick produced
// nothing new for that line item.
type changeTracker struct {
	sigs map[string]string
}

func newChangeTracker() *changeTracker {
	return &changeTracker{sigs: make(map[string]string)}
}

// Changed records the observation and reports whether it differs from the
// previous one for the same line item.
func (t *changeTracker) Changed(obs event.Observation) bool {
	sig := obs.Signature()
	prev, seen := t.sigs[obs.LineItemID]
	t.sigs[obs.LineItemID] = sig
	return !seen || prev != sig
}

// Seed records an observation without reporting a change. Used for the
// initial snapshot so the first tick does not re-emit identical state.
func (t *changeTracker) Seed(obs event.Observation) {
	t.sigs[obs.LineItemID] = obs.Signature()
}

// Reset forgets all signatures; the next tick re-emits everything.
func (t *changeTracker) Reset() {
	t.sigs = make(map[string]string)
}

// emitter pushes events onto the raw queue, honoring backpressure.
type emitter struct {
	out       *queue.Bounded[event.Event]
	auctionID string
}

// emit blocks until the event is queued. Returns false when the queue is
// closed or ctx canceled, which tells the loop to wind down.
func (e *emitter) emit(ctx context.Context, ev event.Event) bool {
	ev.AuctionID = e.auctionID
	ok, err := e.out.Send(ctx, ev)
	return ok && err == nil
}
