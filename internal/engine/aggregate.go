package engine

import (
	"fmt"
	"time"

	"github.com/nmoreno/subastas-monitor/internal/event"
)

// defaultErrorWindow is how long identical HTTP errors are collapsed before
// a summary LOG is produced.
const defaultErrorWindow = time.Minute

// aggregator turns high-frequency events into low-frequency LOG summaries:
// heartbeats become per-minute tick counts, identical HTTP errors collapse
// into one line with a count.
type aggregator struct {
	now func() time.Time

	minute    time.Time
	tickCount int
	lastTick  int

	errWindow time.Duration
	errKey    string
	errCount  int
	errSince  time.Time
}

func newAggregator(errWindow time.Duration) *aggregator {
	if errWindow <= 0 {
		errWindow = defaultErrorWindow
	}
	return &aggregator{now: time.Now, errWindow: errWindow}
}

// heartbeat records one tick and returns a summary LOG event when a minute
// boundary has passed, nil otherwise.
func (a *aggregator) heartbeat(hb event.Heartbeat) *event.Event {
	now := a.now().Truncate(time.Minute)
	a.tickCount++
	a.lastTick = hb.Tick

	if a.minute.IsZero() {
		a.minute = now
		return nil
	}
	if now.Equal(a.minute) {
		return nil
	}

	msg := fmt.Sprintf("monitoreo activo: %d ticks en el último minuto (tick %d)",
		a.tickCount, a.lastTick)
	a.minute = now
	a.tickCount = 0

	ev := event.New(event.LevelInfo, event.TypeLog, "", msg)
	return &ev
}

// httpError reports whether this error should be logged now. The first
// occurrence of a key passes through; identical repeats inside the window
// are swallowed. When the window closes, a collapsed summary is returned.
func (a *aggregator) httpError(he event.HTTPError) (logNow bool, summary *event.Event) {
	key := fmt.Sprintf("%d|%s", he.Status, he.Message)
	now := a.now()

	if key != a.errKey || now.Sub(a.errSince) >= a.errWindow {
		var sum *event.Event
		if a.errCount > 1 {
			msg := fmt.Sprintf("error http repetido %d veces: %s", a.errCount, a.errKey)
			ev := event.New(event.LevelWarn, event.TypeLog, "", msg)
			sum = &ev
		}
		a.errKey = key
		a.errCount = 1
		a.errSince = now
		return true, sum
	}

	a.errCount++
	return false, nil
}
