package session_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	sessionHandler "github.com/qijun/dashchat/backend/internal/handler/session"
	model "github.com/qijun/dashchat/backend/internal/model/chat"
	chatService "github.com/qijun/dashchat/backend/internal/service/chat"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	chatSvc := chatService.NewService()
	t.Cleanup(func() { chatSvc.Close() })

	r := chi.NewRouter()
	sessionHandler.New(chatSvc).RegisterRoutes(r)
	return r
}

func createSession(t *testing.T, r chi.Router, body string) model.Session {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/session/create", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}

	var result struct {
		Success bool          `json:"success"`
		Data    model.Session `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !result.Success || result.Data.ID == "" {
		t.Fatalf("unexpected create payload: %s", rec.Body)
	}
	return result.Data
}

func TestCreateSessionWithTitle(t *testing.T) {
	r := newTestRouter(t)

	session := createSession(t, r, `{"title":"旅行计划"}`)
	if session.Title != "旅行计划" {
		t.Fatalf("title = %q", session.Title)
	}
}

func TestCreateSessionEmptyBodyUsesDefaultTitle(t *testing.T) {
	r := newTestRouter(t)

	session := createSession(t, r, "")
	if session.Title != "新会话" {
		t.Fatalf("title = %q, want default", session.Title)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	r := newTestRouter(t)

	first := createSession(t, r, `{"title":"第一个"}`)
	second := createSession(t, r, `{"title":"第二个"}`)

	req := httptest.NewRequest(http.MethodGet, "/session/list", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body)
	}

	var result struct {
		Success bool            `json:"success"`
		Data    []model.Session `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(result.Data) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(result.Data))
	}
	if result.Data[0].ID != second.ID || result.Data[1].ID != first.ID {
		t.Fatalf("sessions must be newest first: %+v", result.Data)
	}
}
