package client

import (
	"context"
	"fmt"

	"github.com/qijun/dashchat/backend/internal/model/chat"
)

// Selector tracks the active session and loads its history. Session
// creation stays lazy: a fresh conversation gets its session from the
// store on the first user message, not here.
type Selector struct {
	conv  *Conversation
	store Store
}

// NewSelector wires session selection to conversation state.
func NewSelector(conv *Conversation, store Store) *Selector {
	return &Selector{conv: conv, store: store}
}

// Bootstrap loads the session list and adopts the most recently created
// session, if any, together with its history.
func (s *Selector) Bootstrap(ctx context.Context) error {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	s.conv.setSessions(sessions)

	if len(sessions) == 0 {
		return nil
	}

	// Sessions arrive newest first.
	return s.SwitchSession(ctx, sessions[0].ID)
}

// SwitchSession activates a session and reloads its history. Switching
// to the already active session is a no-op.
func (s *Selector) SwitchSession(ctx context.Context, id string) error {
	if id == s.conv.ActiveSessionID() {
		return nil
	}

	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load history for session %s: %w", id, err)
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	s.conv.setActiveSession(id)
	s.conv.setMessages(messages)
	return nil
}

// NewSession clears the active session and transcript locally. No
// backend call happens until the next user message is sent.
func (s *Selector) NewSession() {
	s.conv.setActiveSession("")
	s.conv.setMessages(nil)
}
