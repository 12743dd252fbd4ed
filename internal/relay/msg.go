// Package relay replicates the shared tree store over websockets: a
// Hub bridges sockets to the authoritative in-memory store, and a
// Client gives remote processes the same Store interface.
package relay

import "encoding/json"

// wsMsg is the envelope for every frame in either direction.
type wsMsg struct {
	Type string `json:"type"`
	// ID correlates requests with acks/values; watch requests reuse it
	// as the subscription id.
	ID   int64  `json:"id,omitempty"`
	Path string `json:"path,omitempty"`
	// update
	Writes map[string]json.RawMessage `json:"writes,omitempty"`
	// value / snapshot
	Value  json.RawMessage `json:"value,omitempty"`
	Exists bool            `json:"exists,omitempty"`
	// snapshot
	WatchID int64 `json:"watchId,omitempty"`
	// error
	Error string `json:"error,omitempty"`
}

const (
	msgUpdate   = "update"
	msgGet      = "get"
	msgWatch    = "watch"
	msgUnwatch  = "unwatch"
	msgHook     = "hook"
	msgAck      = "ack"
	msgValue    = "value"
	msgSnapshot = "snapshot"
	msgError    = "error"
)
