package engine

import (
	"fmt"
	"time"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/money"
	"github.com/nmoreno/subastas-monitor/internal/store"
)

// defaultSoundRefractory is the per-line-item window during which repeated
// sound cues are muted.
const defaultSoundRefractory = 5 * time.Second

// itemAlertState is the latched per-line-item memory behind the decision
// table: leadership for the WINNER/LOSER one-shot and the last sound time
// for debouncing.
type itemAlertState struct {
	wasLeader bool
	lastSound time.Time
}

// alertDecider evaluates the alert decision table for UPDATE events.
type alertDecider struct {
	refractory time.Duration
	state      map[string]*itemAlertState
	now        func() time.Time
}

func newAlertDecider(refractory time.Duration) *alertDecider {
	if refractory <= 0 {
		refractory = defaultSoundRefractory
	}
	return &alertDecider{
		refractory: refractory,
		state:      make(map[string]*itemAlertState),
		now:        time.Now,
	}
}

// alertInput is everything the decision table reads for one UPDATE.
type alertInput struct {
	Prev         *store.LineItemState // state before this update, nil on first sight
	Curr         store.LineItemState
	Costs        *store.LineItemCosts // nil when the user entered nothing
	MyProviderID string               // bidder's provider id in this auction
}

// decide applies the decision table. Leadership latches: losing the lead
// stays LOSER until the next change for that line item.
func (d *alertDecider) decide(in alertInput) event.Alert {
	id := in.Curr.LineItemID
	st, ok := d.state[id]
	if !ok {
		st = &itemAlertState{}
		d.state[id] = st
	}

	isLeader := in.MyProviderID != "" && in.Curr.LeaderProviderID == in.MyProviderID
	wasLeader := st.wasLeader
	st.wasLeader = isLeader

	tracked := in.Costs != nil && in.Costs.Tracked

	style := event.StyleNormal
	sound := event.SoundNone
	var msg string

	switch {
	case isLeader:
		style = event.StyleWinner
		msg = "mi oferta lidera el renglón"
	case wasLeader:
		style = event.StyleLoser
		sound = event.SoundAlert
		msg = "perdimos el liderazgo del renglón"
	case in.Prev != nil && in.Prev.Best != nil && in.Curr.Best != nil && *in.Curr.Best < *in.Prev.Best:
		style = event.StyleAlertDown
		sound = event.SoundAlert
		msg = fmt.Sprintf("mejor oferta bajó a %s", money.Format(*in.Curr.Best))
	case in.Prev != nil && in.Prev.Best != nil && in.Curr.Best != nil && *in.Curr.Best > *in.Prev.Best:
		style = event.StyleAlertUp
		msg = fmt.Sprintf("mejor oferta subió a %s", money.Format(*in.Curr.Best))
	case tracked:
		style = event.StyleTracked
		sound = event.SoundAlert // tracked change
	}

	hide := false
	if in.Costs != nil && in.Costs.HideBelowThreshold &&
		in.Costs.RentaParaMejorar != nil && in.Costs.MinMargin != nil &&
		*in.Costs.RentaParaMejorar < *in.Costs.MinMargin {
		hide = true
	}

	// Sound only for ALERT_DOWN, LOSER and tracked changes, debounced per
	// line item.
	if sound != event.SoundNone {
		now := d.now()
		if now.Sub(st.lastSound) < d.refractory {
			sound = event.SoundNone
		} else {
			st.lastSound = now
		}
	}

	return event.Alert{
		LineItemID: id,
		Style:      style,
		Tracked:    tracked,
		Sound:      sound,
		Hide:       hide,
		Message:    msg,
	}
}
