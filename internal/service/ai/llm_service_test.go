package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qijun/dashchat/backend/internal/config"
	"github.com/qijun/dashchat/backend/internal/model/chat"
)

func testConfig(baseURL string) config.AIConfig {
	return config.AIConfig{
		BaseURL:      baseURL,
		Model:        "qwen-plus",
		StreamUp:     true,
		HistoryLimit: 20,
	}
}

func testService(baseURL string) *Service {
	svc := NewService(testConfig(baseURL))
	svc.apiKey = func() string { return "test-key" }
	return svc
}

func turns(n int) []chat.Message {
	messages := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		messages = append(messages, chat.Message{
			ID:        fmt.Sprintf("m%d", i),
			Content:   fmt.Sprintf("turn %d", i),
			IsUser:    i%2 == 0,
			CreatedAt: time.Now().UTC(),
		})
	}
	return messages
}

func TestBuildMessagesBoundsHistory(t *testing.T) {
	svc := testService("http://unused")

	messages := svc.buildMessages("新问题", turns(21))

	// system + 20 history + prompt
	if len(messages) != 22 {
		t.Fatalf("expected 22 outbound messages, got %d", len(messages))
	}
	if messages[0].Role != "system" {
		t.Fatalf("first message must be the system instruction, got %s", messages[0].Role)
	}
	if messages[1].Content != "turn 1" {
		t.Fatalf("oldest turn must be dropped, history starts at %q", messages[1].Content)
	}
	last := messages[len(messages)-1]
	if last.Role != "user" || last.Content != "新问题" {
		t.Fatalf("prompt must come last, got %s %q", last.Role, last.Content)
	}
}

func TestBuildMessagesDropsDuplicateTrailingPrompt(t *testing.T) {
	svc := testService("http://unused")
	history := []chat.Message{
		{Content: "earlier", IsUser: true},
		{Content: "earlier reply", IsUser: false},
		{Content: "重复的提问", IsUser: true},
	}

	messages := svc.buildMessages("重复的提问", history)

	// system + 2 history + prompt; the persisted duplicate is gone
	if len(messages) != 4 {
		t.Fatalf("expected 4 outbound messages, got %d", len(messages))
	}
	for _, msg := range messages[1 : len(messages)-1] {
		if msg.Content == "重复的提问" {
			t.Fatal("duplicate trailing prompt must be dropped from history")
		}
	}
}

func TestBuildMessagesKeepsNonDuplicateTail(t *testing.T) {
	svc := testService("http://unused")
	history := []chat.Message{{Content: "别的问题", IsUser: true}}

	messages := svc.buildMessages("新问题", history)
	if len(messages) != 3 {
		t.Fatalf("expected 3 outbound messages, got %d", len(messages))
	}
}

func TestCompleteExtractsFirstChoice(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "你好！"}}},
		})
	}))
	defer srv.Close()

	svc := testService(srv.URL)
	reply, err := svc.Complete(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Complete err: %v", err)
	}
	if reply != "你好！" {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotBody["model"] != "qwen-plus" || gotBody["stream"] != false {
		t.Fatalf("unexpected request body: %v", gotBody)
	}
}

func TestCompleteEmptyReplyCarriesRawResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[],"request_id":"abc"}`)
	}))
	defer srv.Close()

	svc := testService(srv.URL)
	_, err := svc.Complete(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("expected empty-reply error")
	}
	if !strings.Contains(err.Error(), "request_id") {
		t.Fatalf("error must include the raw response for diagnostics: %v", err)
	}
}

func TestCompleteMissingKeyFails(t *testing.T) {
	svc := NewService(testConfig("http://unused"))
	svc.apiKey = func() string { return "   " }

	if _, err := svc.Complete(context.Background(), "hi", nil); err != ErrMissingAPIKey {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestStreamCompleteReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	svc := testService(srv.URL)
	body, err := svc.StreamComplete(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("StreamComplete err: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body err: %v", err)
	}
	if !strings.Contains(string(raw), "[DONE]") {
		t.Fatalf("body must pass frames through verbatim, got %q", raw)
	}
}

func TestStreamCompleteNonOKFailsBeforeBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svc := testService(srv.URL)
	if _, err := svc.StreamComplete(context.Background(), "hi", nil); err == nil {
		t.Fatal("expected connection failure to surface as an error")
	} else if !strings.Contains(err.Error(), "503") {
		t.Fatalf("error should carry the upstream status: %v", err)
	}
}

func TestSanitizeKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  sk-abc  ", "sk-abc"},
		{"“sk-abc”", "sk-abc"},
		{`"sk-abc"`, "sk-abc"},
		{"sk-\u200babc\ufeff", "sk-abc"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeKey(tc.in); got != tc.want {
			t.Fatalf("SanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
