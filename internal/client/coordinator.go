package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qijun/dashchat/backend/internal/model/chat"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrSendInFlight = errors.New("a send operation is already in flight")
)

// FallbackReply replaces a failed or cancelled assistant turn so the user
// never faces a stalled empty bubble.
const FallbackReply = "服务暂时不可用，请稍后重试"

// Coordinator drives one send operation end to end: persist the user
// turn, stream the assistant reply into a provisional message, persist
// the final text and reconcile the provisional message with its stored
// form. At most one operation is in flight at a time.
type Coordinator struct {
	conv     *Conversation
	store    Store
	opener   StreamOpener
	replyURL string

	mu      sync.Mutex
	current *sendOp
}

// sendOp identifies one in-flight send. Terminal paths race (cancel vs
// late close/error), so every one of them must win the complete() guard
// before touching conversation state.
type sendOp struct {
	cancel        context.CancelFunc
	provisionalID string
	acc           strings.Builder
}

// NewCoordinator wires the send pipeline.
func NewCoordinator(conv *Conversation, store Store, opener StreamOpener, replyURL string) *Coordinator {
	return &Coordinator{
		conv:     conv,
		store:    store,
		opener:   opener,
		replyURL: replyURL,
	}
}

// Send runs one send operation to completion. Empty or whitespace-only
// text is rejected with no side effect; a second send while one is in
// flight is rejected likewise. Streaming errors resolve internally into
// the fallback message, not into a returned error.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	opCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		cancel()
		return ErrSendInFlight
	}
	op := &sendOp{
		cancel:        cancel,
		provisionalID: "pending-" + uuid.NewString(),
	}
	c.current = op
	c.mu.Unlock()
	defer cancel()

	c.conv.setSending(true)

	// Persist the user turn. Failure is cosmetic for the transcript and
	// never aborts the send.
	saved, err := c.store.SaveMessage(opCtx, text, true, c.conv.ActiveSessionID())
	if !c.live(op) {
		// Abort landed while the save was in flight and already resolved
		// the transcript; nothing below may touch conversation state.
		return nil
	}
	if err != nil {
		log.Printf("[send] failed to save user message: %v", err)
	} else {
		c.conv.AppendMessage(saved)
		if c.conv.ActiveSessionID() == "" && saved.SessionID != "" {
			c.conv.setActiveSession(saved.SessionID)
			c.refreshSessions(opCtx)
		}
	}

	// Provisional assistant bubble the stream writes into.
	c.conv.AppendMessage(chat.Message{
		ID:        op.provisionalID,
		SessionID: c.conv.ActiveSessionID(),
		CreatedAt: time.Now().UTC(),
	})
	if !c.live(op) {
		// Abort raced the append; its removal saw no provisional yet, so
		// take it back out here.
		c.conv.RemoveMessage(op.provisionalID)
		return nil
	}

	body, err := json.Marshal(map[string]any{
		"prompt":    text,
		"sessionId": c.conv.ActiveSessionID(),
		"stream":    true,
	})
	if err != nil {
		c.handleStreamError(op, err)
		return nil
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "text/event-stream")

	c.opener.Open(opCtx, StreamRequest{
		URL:    c.replyURL,
		Method: http.MethodPost,
		Header: header,
		Body:   body,
	}, Callbacks{
		OnMessage: func(frame Frame) { c.handleDelta(op, frame.Delta) },
		OnClose:   func() { c.handleStreamClose(opCtx, op) },
		OnError:   func(err error) { c.handleStreamError(op, err) },
	})

	return nil
}

// Abort cancels the in-flight send. A no-op while idle, and a no-op when
// it races with normal completion.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	op := c.current
	c.mu.Unlock()
	if op == nil {
		return
	}

	op.cancel()
	if !c.complete(op) {
		return
	}

	log.Printf("[send] aborted by user")
	c.conv.RemoveMessage(op.provisionalID)
	// Persistence already in flight cannot be recalled, so the fallback
	// save runs on a fresh context.
	c.appendFallback(context.Background())
}

// live reports whether op is still the current operation. Checked after
// every suspension point so a retired operation stops mutating state.
func (c *Coordinator) live(op *sendOp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == op
}

// complete retires op if it is still the current operation. Exactly one
// terminal path wins; all others become no-ops.
func (c *Coordinator) complete(op *sendOp) bool {
	c.mu.Lock()
	if c.current != op {
		c.mu.Unlock()
		return false
	}
	c.current = nil
	c.mu.Unlock()

	c.conv.setSending(false)
	return true
}

// handleDelta appends one streamed fragment to the accumulator and the
// provisional message. Late deltas from a retired operation are dropped.
func (c *Coordinator) handleDelta(op *sendOp, delta string) {
	if !c.live(op) || delta == "" {
		return
	}

	op.acc.WriteString(delta)
	c.conv.AppendToMessage(op.provisionalID, delta)
}

// handleStreamClose finalizes a normally closed stream: persist the
// accumulated reply and swap the provisional message for its stored form.
func (c *Coordinator) handleStreamClose(ctx context.Context, op *sendOp) {
	if !c.complete(op) {
		return
	}

	text := op.acc.String()
	if text == "" {
		// Nothing arrived; an empty reply is never persisted.
		c.conv.RemoveMessage(op.provisionalID)
		return
	}

	saved, err := c.store.SaveMessage(ctx, text, false, c.conv.ActiveSessionID())
	if err != nil {
		// One retry covers transient store hiccups.
		saved, err = c.store.SaveMessage(ctx, text, false, c.conv.ActiveSessionID())
	}
	if err != nil {
		log.Printf("[send] failed to save assistant message, reply stays unpersisted: %v", err)
		return
	}

	c.conv.ReplaceMessage(op.provisionalID, saved)
}

// handleStreamError resolves a failed open or broken stream into the
// fallback assistant turn.
func (c *Coordinator) handleStreamError(op *sendOp, cause error) {
	if !c.complete(op) {
		return
	}

	log.Printf("[send] stream failed: %v", cause)
	c.conv.RemoveMessage(op.provisionalID)
	c.appendFallback(context.Background())
}

// appendFallback persists the fixed fallback text and appends it to the
// transcript on success.
func (c *Coordinator) appendFallback(ctx context.Context) {
	saved, err := c.store.SaveMessage(ctx, FallbackReply, false, c.conv.ActiveSessionID())
	if err != nil {
		log.Printf("[send] failed to save fallback message: %v", err)
		return
	}
	c.conv.AppendMessage(saved)
}

// refreshSessions reloads the session list after the store assigned a new
// session id to the first turn.
func (c *Coordinator) refreshSessions(ctx context.Context) {
	sessions, err := c.store.ListSessions(ctx)
	if err != nil {
		log.Printf("[send] failed to refresh sessions: %v", err)
		return
	}
	c.conv.setSessions(sessions)
}
