// Package uistream serves the processed event queue to user interfaces
// over WebSocket. Every connected client receives every event as a JSON
// frame; a client that cannot keep up is disconnected rather than allowed
// to stall the pipeline.
package uistream
