package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/money"
	"github.com/nmoreno/subastas-monitor/internal/store"
)

// newTestDecider returns a decider with a controllable clock.
func newTestDecider() (*alertDecider, *time.Time) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	d := newAlertDecider(5 * time.Second)
	d.now = func() time.Time { return now }
	return d, &now
}

func stateWithBest(id string, best float64) store.LineItemState {
	return store.LineItemState{LineItemID: id, Best: money.Ptr(best)}
}

func TestAlertPriceDown(t *testing.T) {
	d, _ := newTestDecider()

	prev := stateWithBest("7", 1000)
	curr := stateWithBest("7", 900)

	a := d.decide(alertInput{Prev: &prev, Curr: curr})
	assert.Equal(t, event.StyleAlertDown, a.Style)
	assert.Equal(t, event.SoundAlert, a.Sound)
	assert.Contains(t, a.Message, "bajó")
}

func TestAlertPriceUpNoSound(t *testing.T) {
	d, _ := newTestDecider()

	prev := stateWithBest("7", 900)
	curr := stateWithBest("7", 1000)

	a := d.decide(alertInput{Prev: &prev, Curr: curr})
	assert.Equal(t, event.StyleAlertUp, a.Style)
	assert.Equal(t, event.SoundNone, a.Sound)
}

func TestAlertWinnerThenLoser(t *testing.T) {
	d, _ := newTestDecider()

	curr := stateWithBest("7", 1000)
	curr.LeaderProviderID = "30077"

	a := d.decide(alertInput{Curr: curr, MyProviderID: "30077"})
	assert.Equal(t, event.StyleWinner, a.Style)
	assert.Equal(t, event.SoundNone, a.Sound, "winning is silent")

	// Someone undercuts us.
	next := stateWithBest("7", 950)
	next.LeaderProviderID = "99999"

	a = d.decide(alertInput{Prev: &curr, Curr: next, MyProviderID: "30077"})
	assert.Equal(t, event.StyleLoser, a.Style)
	assert.Equal(t, event.SoundAlert, a.Sound)
}

func TestAlertTracked(t *testing.T) {
	d, _ := newTestDecider()

	curr := stateWithBest("7", 1000)
	costs := &store.LineItemCosts{Tracked: true}

	a := d.decide(alertInput{Curr: curr, Costs: costs})
	assert.Equal(t, event.StyleTracked, a.Style)
	assert.True(t, a.Tracked)
	assert.Equal(t, event.SoundAlert, a.Sound)
}

func TestAlertSoundRefractory(t *testing.T) {
	d, now := newTestDecider()

	prev := stateWithBest("7", 1000)
	curr := stateWithBest("7", 900)

	a := d.decide(alertInput{Prev: &prev, Curr: curr})
	assert.Equal(t, event.SoundAlert, a.Sound)

	// A second drop right away is muted.
	*now = now.Add(2 * time.Second)
	next := stateWithBest("7", 800)
	a = d.decide(alertInput{Prev: &curr, Curr: next})
	assert.Equal(t, event.StyleAlertDown, a.Style)
	assert.Equal(t, event.SoundNone, a.Sound)

	// After the refractory window sound comes back.
	*now = now.Add(6 * time.Second)
	final := stateWithBest("7", 700)
	a = d.decide(alertInput{Prev: &next, Curr: final})
	assert.Equal(t, event.SoundAlert, a.Sound)
}

func TestAlertRefractoryPerLineItem(t *testing.T) {
	d, _ := newTestDecider()

	prevA, currA := stateWithBest("1", 1000), stateWithBest("1", 900)
	prevB, currB := stateWithBest("2", 1000), stateWithBest("2", 900)

	a := d.decide(alertInput{Prev: &prevA, Curr: currA})
	assert.Equal(t, event.SoundAlert, a.Sound)

	// A different line item has its own window.
	b := d.decide(alertInput{Prev: &prevB, Curr: currB})
	assert.Equal(t, event.SoundAlert, b.Sound)
}

func TestAlertHideBelowThreshold(t *testing.T) {
	d, _ := newTestDecider()

	curr := stateWithBest("7", 1000)
	costs := &store.LineItemCosts{
		HideBelowThreshold: true,
		MinMargin:          money.Ptr(0.30),
		RentaParaMejorar:   money.Ptr(0.10),
	}

	a := d.decide(alertInput{Curr: curr, Costs: costs})
	assert.True(t, a.Hide)

	costs.RentaParaMejorar = money.Ptr(0.40)
	a = d.decide(alertInput{Curr: curr, Costs: costs})
	assert.False(t, a.Hide)
}
