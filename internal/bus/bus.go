// Package bus provides the fan-out transports behind core.Bus: a NATS-backed
// one that reaches every server process, and a local single-process fallback
// selected at startup when the distributed transport is unavailable.
package bus

import (
	"encoding/json"
	"strings"
)

// envelope is the wire format events travel in between processes.
type envelope struct {
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin,omitempty"`
}

// subjectForRoom maps a room key to a NATS subject. Room keys use colons
// ("room:chat:<id>"); subjects use dots.
func subjectForRoom(roomID string) string {
	return "fanout." + strings.ReplaceAll(roomID, ":", ".")
}
