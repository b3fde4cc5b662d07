package session

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/qijun/dashchat/backend/internal/service/chat"
	"github.com/qijun/dashchat/backend/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session/list", h.handleListSessions)
	r.Post("/session/create", h.handleCreateSession)
}

// result 会话接口的响应信封
type result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// handleListSessions 按创建时间倒序返回全部会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context())
	if err != nil {
		utils.RespondJSON(w, http.StatusInternalServerError, result{Success: false, Message: err.Error()})
		return
	}

	utils.RespondJSON(w, http.StatusOK, result{Success: true, Data: sessions})
}

// handleCreateSession 创建会话，请求体可省略
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	// 空请求体是合法的，标题走默认值。
	_ = json.NewDecoder(r.Body).Decode(&payload)

	session, err := h.chatSvc.CreateSession(r.Context(), payload.Title)
	if err != nil {
		utils.RespondJSON(w, http.StatusInternalServerError, result{Success: false, Message: err.Error()})
		return
	}

	utils.RespondJSON(w, http.StatusCreated, result{Success: true, Data: session})
}
