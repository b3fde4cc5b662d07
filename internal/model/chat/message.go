package chat

import (
	"strings"
	"time"
)

// Message persists individual turns for history/replay.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	CreatedAt time.Time `json:"createdAt"`
}

// Provisional reports whether the message has been durably persisted.
// The client tags in-flight assistant replies with a "pending-" id.
func (m Message) Provisional() bool {
	return m.ID == "" || strings.HasPrefix(m.ID, "pending-")
}
