package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	chatService "github.com/qijun/dashchat/backend/internal/service/chat"
)

func TestSaveMessageCreatesSessionForFirstUserTurn(t *testing.T) {
	svc := chatService.NewService()
	ctx := context.Background()

	msg, err := svc.SaveMessage(ctx, "你好，帮我写一首诗", true, "")
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if msg.SessionID == "" {
		t.Fatal("first user message must be tagged with a new session")
	}

	sessions, err := svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions err: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(sessions))
	}
	if sessions[0].ID != msg.SessionID {
		t.Fatal("session id mismatch")
	}
	if sessions[0].Title != "你好，帮我写一首诗" {
		t.Fatalf("session title should come from the first turn, got %q", sessions[0].Title)
	}
}

func TestSaveMessageTruncatesLongTitle(t *testing.T) {
	svc := chatService.NewService()
	content := strings.Repeat("长", 30)

	msg, err := svc.SaveMessage(context.Background(), content, true, "")
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	sessions, _ := svc.ListSessions(context.Background())
	if got := len([]rune(sessions[0].Title)); got != 20 {
		t.Fatalf("title should be capped at 20 runes, got %d", got)
	}
	if msg.Content != content {
		t.Fatal("message content must not be truncated")
	}
}

func TestSaveMessageRejectsEmptyContent(t *testing.T) {
	svc := chatService.NewService()

	for _, content := range []string{"", "   "} {
		if _, err := svc.SaveMessage(context.Background(), content, true, ""); !errors.Is(err, chatService.ErrEmptyContent) {
			t.Fatalf("content %q: expected ErrEmptyContent, got %v", content, err)
		}
	}
}

func TestSaveMessageUnknownSession(t *testing.T) {
	svc := chatService.NewService()

	if _, err := svc.SaveMessage(context.Background(), "hi", true, "missing"); !errors.Is(err, chatService.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListMessagesChronological(t *testing.T) {
	svc := chatService.NewService()
	ctx := context.Background()

	first, err := svc.SaveMessage(ctx, "hi", true, "")
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	if _, err := svc.SaveMessage(ctx, "hello", false, first.SessionID); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	messages, err := svc.ListMessages(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if !messages[0].IsUser || messages[1].IsUser {
		t.Fatal("messages must come back oldest first")
	}
}

func TestListMessagesLegacyUnscoped(t *testing.T) {
	svc := chatService.NewService()
	ctx := context.Background()

	// Assistant messages without a session stay unscoped.
	if _, err := svc.SaveMessage(ctx, "legacy reply", false, ""); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	messages, err := svc.ListMessages(ctx, "")
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "legacy reply" {
		t.Fatalf("expected the unscoped message, got %+v", messages)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	svc := chatService.NewService()
	ctx := context.Background()

	a, _ := svc.CreateSession(ctx, "first")
	b, _ := svc.CreateSession(ctx, "second")

	sessions, err := svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions err: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != b.ID || sessions[1].ID != a.ID {
		t.Fatalf("expected newest first, got %+v", sessions)
	}
}

func TestRecentMessagesBounded(t *testing.T) {
	svc := chatService.NewService()
	ctx := context.Background()

	session, _ := svc.CreateSession(ctx, "t")
	for i := 0; i < 21; i++ {
		content := "turn"
		if i == 20 {
			content = "latest"
		}
		if _, err := svc.SaveMessage(ctx, content, i%2 == 0, session.ID); err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
	}

	recent, err := svc.RecentMessages(ctx, session.ID, 20)
	if err != nil {
		t.Fatalf("RecentMessages err: %v", err)
	}
	if len(recent) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(recent))
	}
	if recent[len(recent)-1].Content != "latest" {
		t.Fatal("bounding must keep the newest turns in chronological order")
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	svc := chatService.NewService()
	if err := svc.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	if _, err := svc.SaveMessage(context.Background(), "hi", true, ""); !errors.Is(err, chatService.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
