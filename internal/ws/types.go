package ws

import (
	"encoding/json"

	"github.com/antlion/agentmq/internal/status"
)

// Envelope is the top-level WebSocket message format.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// --- Client -> Server messages ---

// SubscribePayload requests subscription to a channel.
type SubscribePayload struct {
	Channel string `json:"channel"` // "status", "events", "events:<agentType>"
}

// UnsubscribePayload cancels a subscription.
type UnsubscribePayload struct {
	Channel string `json:"channel"`
}

// --- Server -> Client messages ---

// StatusSnapshotPayload is the full state sent on subscribe and
// periodically. Events are deltas; a reconnecting client resyncs from
// the next snapshot.
type StatusSnapshotPayload struct {
	Types map[string]status.TypeStatus `json:"types"`
}

// EventPayload wraps one orchestrator state change.
type EventPayload struct {
	Event status.Event `json:"event"`
}

// Message type constants.
const (
	// Client -> Server
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	// Server -> Client
	TypeStatusSnapshot = "status.snapshot"
	TypeEvent          = "event"
)

// Channel name constants.
const (
	ChannelStatus = "status"
	ChannelEvents = "events"
	// per-type event channels are "events:<agentType>"
)

// MakeEnvelope creates an Envelope with the given type and payload.
func MakeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: p})
}
