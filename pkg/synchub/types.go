// Package synchub implements the collaborative sync hub: per-project rooms
// of WebSocket clients exchanging laboratory state deltas, with mode-scoped
// broadcast and debounced persistence to the document store. The hub is
// fully independent of the workflow engine's session bus.
package synchub

import "context"

// Message is the sync wire format, both directions. Type discriminates;
// unused fields stay empty on the wire.
type Message struct {
	Type      string         `json:"type"`
	User      string         `json:"user,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	CardID    string         `json:"card_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Users     []string       `json:"users,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Client message types.
const (
	MsgConnect     = "connect"
	MsgStateUpdate = "state_update"
	MsgCardUpdate  = "card_update"
	MsgFullSync    = "full_sync"
	MsgCardFocus   = "card_focus"
	MsgCardBlur    = "card_blur"
	MsgHeartbeat   = "heartbeat"
	MsgError       = "error"
)

// Conn abstracts one client socket so rooms can be tested without a network
// connection. Writes must be safe for concurrent use.
type Conn interface {
	Write(ctx context.Context, data []byte) error
}
