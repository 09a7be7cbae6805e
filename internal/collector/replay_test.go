package collector

import (
	"context"
	"testing"
	"time"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/queue"
	"github.com/nmoreno/subastas-monitor/internal/scenario"
)

func priceEntry(tick int, minToBeat string) scenario.Entry {
	return scenario.Entry{
		Tick:   tick,
		Status: 200,
		Renglones: []scenario.RenglonResponse{{
			IDRenglon:   "836160",
			Descripcion: "Insumos",
			ResponseJSON: scenario.ResponseJSON{
				D: "null@@$ 1.000.000,0000@@" + minToBeat + "@@",
			},
		}},
	}
}

func testScenario(timeline []scenario.Entry, maxTicks int) *scenario.Scenario {
	return &scenario.Scenario{
		Name:     "test",
		Subasta:  scenario.Subasta{IDCot: "22053", URL: "https://example.test/subasta"},
		Config:   scenario.Config{TickDurationSeconds: 0.001, MaxTicks: maxTicks},
		Timeline: timeline,
	}
}

// collect drains events until the queue stalls for the grace period or an
// END/STOP arrives.
func collect(t *testing.T, q *queue.Bounded[event.Event]) []event.Event {
	t.Helper()
	var events []event.Event
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		ev, ok := q.Receive(ctx)
		cancel()
		if !ok {
			return events
		}
		events = append(events, ev)
		if ev.Type == event.TypeEnd || ev.Type == event.TypeStop {
			return events
		}
	}
}

func countType(events []event.Event, typ event.Type) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestReplayPriceSequence(t *testing.T) {
	// Five distinct states; the first seeds the snapshot, so four updates.
	timeline := []scenario.Entry{
		priceEntry(1, "$ 900.000,0000"),
		priceEntry(2, "$ 890.000,0000"),
		priceEntry(3, "$ 880.000,0000"),
		priceEntry(4, "$ 870.000,0000"),
		priceEntry(5, "$ 860.000,0000"),
	}
	timeline[4].Event = scenario.EventEndAuction

	scn := testScenario(timeline, 5)
	out := queue.NewBounded[event.Event](64)
	r := NewReplay(ReplayConfig{}, scn, out, queue.NewControl(), nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := collect(t, out)
	r.Stop(context.Background())

	if events[0].Type != event.TypeSnapshot {
		t.Fatalf("first event = %s, want SNAPSHOT", events[0].Type)
	}
	if got := countType(events, event.TypeUpdate); got != 4 {
		t.Errorf("UPDATE count = %d, want 4", got)
	}
	if got := countType(events, event.TypeHeartbeat); got != 5 {
		t.Errorf("HEARTBEAT count = %d, want 5", got)
	}
	last := events[len(events)-1]
	if last.Type != event.TypeEnd {
		t.Errorf("last event = %s, want END", last.Type)
	}
	for _, ev := range events {
		if ev.AuctionID != "22053" {
			t.Errorf("event %s has id_cot %q, want 22053", ev.Type, ev.AuctionID)
		}
	}
}

func TestReplaySuppressesUnchangedTicks(t *testing.T) {
	// One entry governs every tick; nothing changes after the snapshot.
	scn := testScenario([]scenario.Entry{priceEntry(1, "$ 900.000,0000")}, 4)
	out := queue.NewBounded[event.Event](64)
	r := NewReplay(ReplayConfig{}, scn, out, queue.NewControl(), nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	r.Stop(context.Background())
	out.Close()

	var events []event.Event
	for {
		ev, ok := out.TryReceive()
		if !ok {
			break
		}
		events = append(events, ev)
	}

	if got := countType(events, event.TypeUpdate); got != 0 {
		t.Errorf("UPDATE count = %d, want 0", got)
	}
	if got := countType(events, event.TypeHeartbeat); got != 4 {
		t.Errorf("HEARTBEAT count = %d, want 4", got)
	}
}

func TestReplayHTTPErrorTick(t *testing.T) {
	timeline := []scenario.Entry{
		priceEntry(1, "$ 900.000,0000"),
		{Tick: 2, Status: 503, ErrorMessage: "Service Unavailable"},
		priceEntry(3, "$ 880.000,0000"),
	}
	timeline[2].Event = scenario.EventEndAuction

	scn := testScenario(timeline, 3)
	out := queue.NewBounded[event.Event](64)
	r := NewReplay(ReplayConfig{}, scn, out, queue.NewControl(), nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := collect(t, out)
	r.Stop(context.Background())

	if got := countType(events, event.TypeHTTPError); got != 1 {
		t.Errorf("HTTP_ERROR count = %d, want 1", got)
	}
	for _, ev := range events {
		if ev.Type == event.TypeHTTPError {
			if ev.HTTPError == nil || ev.HTTPError.Status != 503 {
				t.Errorf("HTTP_ERROR payload = %+v, want status 503", ev.HTTPError)
			}
		}
	}
	if got := countType(events, event.TypeUpdate); got != 1 {
		t.Errorf("UPDATE count = %d, want 1", got)
	}
}

func TestReplayGapAfterErrorTick(t *testing.T) {
	// The 500 entry governs ticks 2-4 by position, but only tick 2 is an
	// actual failure; the gap ticks replay the last good state silently.
	timeline := []scenario.Entry{
		priceEntry(1, "$ 900.000,0000"),
		{Tick: 2, Status: 500, ErrorMessage: "Internal Server Error"},
		priceEntry(5, "$ 880.000,0000"),
	}
	timeline[2].Event = scenario.EventEndAuction

	scn := testScenario(timeline, 5)
	out := queue.NewBounded[event.Event](64)
	r := NewReplay(ReplayConfig{}, scn, out, queue.NewControl(), nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := collect(t, out)
	r.Stop(context.Background())

	if got := countType(events, event.TypeHTTPError); got != 1 {
		t.Errorf("HTTP_ERROR count = %d, want 1 (gap ticks must not repeat the error)", got)
	}
	if got := countType(events, event.TypeUpdate); got != 1 {
		t.Errorf("UPDATE count = %d, want 1", got)
	}
	if got := countType(events, event.TypeHeartbeat); got != 5 {
		t.Errorf("HEARTBEAT count = %d, want 5", got)
	}
}

func TestReplayMultiLineIndependentChanges(t *testing.T) {
	rg := func(id, minToBeat string) scenario.RenglonResponse {
		return scenario.RenglonResponse{
			IDRenglon:   id,
			Descripcion: "Insumos " + id,
			ResponseJSON: scenario.ResponseJSON{
				D: "null@@$ 1.000.000,0000@@" + minToBeat + "@@",
			},
		}
	}

	// Three line items; only one changes per later tick.
	timeline := []scenario.Entry{
		{Tick: 1, Status: 200, Renglones: []scenario.RenglonResponse{
			rg("836160", "$ 900.000,0000"),
			rg("836161", "$ 800.000,0000"),
			rg("836162", "$ 700.000,0000"),
		}},
		{Tick: 2, Status: 200, Renglones: []scenario.RenglonResponse{
			rg("836160", "$ 900.000,0000"),
			rg("836161", "$ 790.000,0000"),
			rg("836162", "$ 700.000,0000"),
		}},
		{Tick: 4, Status: 200, Renglones: []scenario.RenglonResponse{
			rg("836160", "$ 900.000,0000"),
			rg("836161", "$ 790.000,0000"),
			rg("836162", "$ 690.000,0000"),
		}},
	}
	timeline[2].Event = scenario.EventEndAuction

	scn := testScenario(timeline, 4)
	out := queue.NewBounded[event.Event](64)
	r := NewReplay(ReplayConfig{}, scn, out, queue.NewControl(), nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	events := collect(t, out)
	r.Stop(context.Background())

	var updated []string
	for _, ev := range events {
		if ev.Type == event.TypeUpdate {
			updated = append(updated, ev.Update.LineItemID)
		}
	}
	if len(updated) != 2 {
		t.Fatalf("UPDATE ids = %v, want exactly one per changed item", updated)
	}
	if updated[0] != "836161" || updated[1] != "836162" {
		t.Errorf("UPDATE ids = %v, want [836161 836162]", updated)
	}
}

func TestReplayStopCommand(t *testing.T) {
	// A long scenario cut short by a stop command.
	scn := testScenario([]scenario.Entry{priceEntry(1, "$ 900.000,0000")}, 100000)
	scn.Config.TickDurationSeconds = 0.005

	out := queue.NewBounded[event.Event](64)
	control := queue.NewControl()
	r := NewReplay(ReplayConfig{}, scn, out, control, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	control.Post(queue.Command{Kind: queue.CmdStop, Reason: "operator stop"})

	events := collect(t, out)
	r.Stop(context.Background())

	last := events[len(events)-1]
	if last.Type != event.TypeStop {
		t.Fatalf("last event = %s, want STOP", last.Type)
	}
	if last.Message != "operator stop" {
		t.Errorf("STOP message = %q, want operator stop", last.Message)
	}
}

func TestChangeTracker(t *testing.T) {
	tr := newChangeTracker()

	obs := event.Observation{LineItemID: "1", BestText: "$ 100,00"}
	if !tr.Changed(obs) {
		t.Error("first observation should register as changed")
	}
	if tr.Changed(obs) {
		t.Error("identical observation should be suppressed")
	}

	obs.BestText = "$ 90,00"
	if !tr.Changed(obs) {
		t.Error("changed best should register")
	}

	tr.Reset()
	if !tr.Changed(obs) {
		t.Error("after reset every observation registers")
	}
}
