package watchhub

import (
	"time"

	"github.com/jsherman999/tailorboard/internal/realtime"
)

// Message types on the relay.
const (
	TypeChange     = "change"
	TypeInvalidate = "invalidate"
	TypeStatus     = "status"
)

// Message is what SSE and websocket clients receive.
type Message struct {
	Type   string             `json:"type"`
	At     time.Time          `json:"at"`
	Keys   []string           `json:"keys,omitempty"`
	Change *realtime.Change   `json:"change,omitempty"`
	Status *realtime.Snapshot `json:"status,omitempty"`
}

func ChangeMessage(c realtime.Change) Message {
	at := c.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Message{Type: TypeChange, At: at, Change: &c}
}

func StatusMessage(s realtime.Snapshot) Message {
	return Message{Type: TypeStatus, At: time.Now().UTC(), Status: &s}
}

// Invalidator publishes invalidate messages so remote clients can drop their
// own cached views.
type Invalidator struct {
	Hub *Hub[Message]
}

func (i Invalidator) Invalidate(keys ...string) {
	if len(keys) == 0 {
		return
	}
	i.Hub.Publish(Message{Type: TypeInvalidate, At: time.Now().UTC(), Keys: append([]string(nil), keys...)})
}
