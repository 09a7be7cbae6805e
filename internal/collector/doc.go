// Package collector produces the raw event stream for one auction. Three
// variants share the same contract: Replay feeds recorded scenarios back at
// configurable speed, Browser drives a real session through Chrome, and
// HTTPPoll polls the portal directly with a captured session.
//
// A collector owns the tick clock. Per tick it emits zero or more UPDATE
// events (one per line item whose observation changed) followed by exactly
// one HEARTBEAT, and reacts to control commands between ticks.
package collector
