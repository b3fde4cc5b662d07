package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/qijun/dashchat/backend/internal/model/chat"
)

// Store is the persistence collaborator the client consumes.
type Store interface {
	SaveMessage(ctx context.Context, content string, isUser bool, sessionID string) (chat.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
	ListSessions(ctx context.Context) ([]chat.Session, error)
	CreateSession(ctx context.Context, title string) (chat.Session, error)
}

// API implements Store over the chat backend's HTTP surface.
type API struct {
	baseURL string
	client  *http.Client
}

// NewAPI creates the HTTP store client. baseURL points at the /api root,
// e.g. "http://localhost:8080/api".
func NewAPI(baseURL string) *API {
	return &API{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Store = (*API)(nil)

// envelope is the common response wrapper. Data stays raw so each call
// decodes its own payload type.
type envelope struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ReplyURL returns the streaming reply endpoint for the transport.
func (a *API) ReplyURL() string {
	return a.baseURL + "/chat/ai-reply"
}

// SaveMessage persists one turn and returns the stored message.
func (a *API) SaveMessage(ctx context.Context, content string, isUser bool, sessionID string) (chat.Message, error) {
	body := map[string]any{"content": content, "isUser": isUser}
	if sessionID != "" {
		body["sessionId"] = sessionID
	}

	var message chat.Message
	if err := a.call(ctx, http.MethodPost, "/chat/save", body, &message); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// ListMessages returns the stored turns for a session, oldest first.
func (a *API) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	path := "/chat/list"
	if sessionID != "" {
		path += "?sessionId=" + url.QueryEscape(sessionID)
	}

	var messages []chat.Message
	if err := a.call(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListSessions returns all sessions, newest first.
func (a *API) ListSessions(ctx context.Context) ([]chat.Session, error) {
	var sessions []chat.Session
	if err := a.call(ctx, http.MethodGet, "/session/list", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession explicitly provisions a session.
func (a *API) CreateSession(ctx context.Context, title string) (chat.Session, error) {
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}

	var session chat.Session
	if err := a.call(ctx, http.MethodPost, "/session/create", body, &session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// call performs one request and unwraps the envelope into out.
func (a *API) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}

	if !env.Success {
		if env.Message == "" {
			return errors.New("请求失败")
		}
		return errors.New(env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload for %s: %w", path, err)
		}
	}
	return nil
}
