// Package event defines the message contract between the collector, the
// engine and the presentation layer.
//
// Events are plain value types. The collector only produces raw events
// (SNAPSHOT, UPDATE, HEARTBEAT, HTTP_ERROR, END); the engine consumes them
// and emits processed events (START, STOP, ALERT, SECURITY, LOG) alongside
// the enriched updates. Business logic lives in the engine, never here.
package event
