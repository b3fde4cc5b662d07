package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qijun/dashchat/backend/internal/model/chat"
)

var (
	ErrEmptyContent    = errors.New("message content is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrClosed          = errors.New("store is closed")
)

const defaultSessionTitle = "新会话"

// titleRuneLimit caps implicit session titles derived from the first turn.
const titleRuneLimit = 20

// Service encapsulates conversation persistence. It is the storage
// collaborator consumed by the HTTP handlers: sessions plus per-session
// message history, with a legacy unscoped bucket for messages saved
// before sessions existed.
type Service struct {
	mu       sync.RWMutex
	closed   bool
	sessions map[string]chat.Session
	order    []string // session ids in creation order
	messages map[string][]chat.Message
}

// NewService bootstraps the in-memory store suitable for a single-process
// deployment.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

// Close releases the store. Subsequent calls fail with ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// CreateSession provisions a new session. A blank title falls back to the
// default.
func (s *Service) CreateSession(_ context.Context, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultSessionTitle
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chat.Session{}, ErrClosed
	}

	s.sessions[session.ID] = session
	s.order = append(s.order, session.ID)
	s.messages[session.ID] = make([]chat.Message, 0, 16)

	return session, nil
}

// ListSessions returns all sessions, most recently created first.
func (s *Service) ListSessions(_ context.Context) ([]chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	sessions := make([]chat.Session, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		sessions = append(sessions, s.sessions[s.order[i]])
	}
	return sessions, nil
}

// SaveMessage appends a turn to the session history. A user message with
// no session id creates a session on the fly, titled after the message;
// a non-user message with no session id lands in the legacy unscoped
// bucket.
func (s *Service) SaveMessage(ctx context.Context, content string, isUser bool, sessionID string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, ErrEmptyContent
	}

	if isUser && sessionID == "" {
		session, err := s.CreateSession(ctx, truncateTitle(content))
		if err != nil {
			return chat.Message{}, err
		}
		sessionID = session.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chat.Message{}, ErrClosed
	}

	if sessionID != "" {
		if _, ok := s.sessions[sessionID]; !ok {
			return chat.Message{}, ErrSessionNotFound
		}
	}

	message := chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		IsUser:    isUser,
		CreatedAt: time.Now().UTC(),
	}

	s.messages[sessionID] = append(s.messages[sessionID], message)
	return message, nil
}

// ListMessages returns the stored turns for a session in chronological
// order. An empty session id selects the legacy unscoped messages.
func (s *Service) ListMessages(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	if sessionID != "" {
		if _, ok := s.sessions[sessionID]; !ok {
			return nil, ErrSessionNotFound
		}
	}

	messages := s.messages[sessionID]
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// RecentMessages returns at most n of the newest turns for a session,
// still in chronological order. Used to bound AI context windows.
func (s *Service) RecentMessages(ctx context.Context, sessionID string, n int) ([]chat.Message, error) {
	messages, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if n > 0 && len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	return messages, nil
}

func truncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleRuneLimit {
		return content
	}
	return string(runes[:titleRuneLimit])
}
