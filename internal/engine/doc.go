// Package engine is the single consumer of the raw event stream. For every
// event it persists first, derives the business metrics, decides alerts and
// security actions, and only then emits processed events toward the UI.
package engine
