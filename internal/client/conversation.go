package client

import (
	"sync"

	"github.com/qijun/dashchat/backend/internal/model/chat"
)

// Conversation holds the client-side view of the active chat: the
// ordered message list, known sessions, the active session id and the
// sending flag. The send coordinator is its only writer.
type Conversation struct {
	mu              sync.RWMutex
	activeSessionID string
	messages        []chat.Message
	sessions        []chat.Session
	sending         bool

	onChange func()
}

// NewConversation creates empty conversation state.
func NewConversation() *Conversation {
	return &Conversation{}
}

// SetOnChange registers a hook invoked after every mutation, outside the
// state lock. UIs use it to schedule a re-render.
func (c *Conversation) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Conversation) notify() {
	c.mu.RLock()
	fn := c.onChange
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// AppendMessage adds a message at the end of the transcript.
func (c *Conversation) AppendMessage(msg chat.Message) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.notify()
}

// AppendToMessage appends a text delta to the content of the message with
// the given id, in place. Returns false when the message is gone.
func (c *Conversation) AppendToMessage(id, delta string) bool {
	c.mu.Lock()
	found := false
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Content += delta
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.notify()
	}
	return found
}

// ReplaceMessage swaps the message with oldID for msg, keeping its
// position. Used exactly once per send: provisional to persisted.
func (c *Conversation) ReplaceMessage(oldID string, msg chat.Message) bool {
	c.mu.Lock()
	found := false
	for i := range c.messages {
		if c.messages[i].ID == oldID {
			c.messages[i] = msg
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.notify()
	}
	return found
}

// RemoveMessage deletes the message with the given id. Ordering of the
// remaining messages is preserved.
func (c *Conversation) RemoveMessage(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	found := false
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.notify()
	}
	return found
}

// Messages returns a snapshot of the transcript.
func (c *Conversation) Messages() []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := make([]chat.Message, len(c.messages))
	copy(copied, c.messages)
	return copied
}

// Sessions returns a snapshot of the known sessions.
func (c *Conversation) Sessions() []chat.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	copied := make([]chat.Session, len(c.sessions))
	copy(copied, c.sessions)
	return copied
}

// ActiveSessionID returns the active session id, empty when none.
func (c *Conversation) ActiveSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeSessionID
}

// Sending reports whether a send operation is in flight.
func (c *Conversation) Sending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sending
}

// ProvisionalCount reports how many unpersisted messages the transcript
// holds. At most one may exist at any time.
func (c *Conversation) ProvisionalCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, msg := range c.messages {
		if msg.Provisional() {
			n++
		}
	}
	return n
}

func (c *Conversation) setSending(v bool) {
	c.mu.Lock()
	c.sending = v
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) setActiveSession(id string) {
	c.mu.Lock()
	c.activeSessionID = id
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) setMessages(messages []chat.Message) {
	c.mu.Lock()
	c.messages = messages
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) setSessions(sessions []chat.Session) {
	c.mu.Lock()
	c.sessions = sessions
	c.mu.Unlock()
	c.notify()
}
