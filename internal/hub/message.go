package hub

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies a message in the page protocol.
type Kind string

const (
	// KindSkipWaiting asks the proxy to activate a waiting cache version now.
	KindSkipWaiting Kind = "SKIP_WAITING"

	// KindSyncRequest asks for a deferred sync to be registered.
	KindSyncRequest Kind = "SYNC_REQUEST"

	// KindSyncRegistered answers a SYNC_REQUEST.
	KindSyncRegistered Kind = "SYNC_REGISTERED"

	// KindBackgroundSync tells pages a deferred sync is starting.
	KindBackgroundSync Kind = "BACKGROUND_SYNC"

	// KindControllerChange tells pages a new cache version took control.
	KindControllerChange Kind = "CONTROLLER_CHANGE"

	// KindSnapshot carries a local-store snapshot to pages.
	KindSnapshot Kind = "SNAPSHOT"
)

// Message is one frame of the page protocol.
type Message struct {
	Type      Kind            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
	Tag       string          `json:"tag,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a message with data marshalled as JSON. A nil data
// leaves Data empty.
func NewMessage(kind Kind, text string, data any) (Message, error) {
	msg := Message{Type: kind, Timestamp: time.Now(), Message: text}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", kind, err)
	}
	msg.Data = raw
	return msg, nil
}
