package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	model "github.com/qijun/dashchat/backend/internal/model/chat"
	aiService "github.com/qijun/dashchat/backend/internal/service/ai"
	chatService "github.com/qijun/dashchat/backend/internal/service/chat"
	"github.com/qijun/dashchat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	aiSvc   *aiService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, aiSvc *aiService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		aiSvc:   aiSvc,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/save", h.handleSaveMessage)
	r.Get("/chat/list", h.handleListMessages)
	r.Post("/chat/ai-reply", h.handleAIReply)
}

// aiReplyResult is the non-streaming reply envelope.
type aiReplyResult struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reply   string `json:"reply"`
}

// saveResult wraps a persisted message.
type saveResult struct {
	Code    int            `json:"code"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    *model.Message `json:"data,omitempty"`
}

// listResult always carries an array so clients never iterate nil.
type listResult struct {
	Code    int             `json:"code"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    []model.Message `json:"data"`
}

// handleSaveMessage 保存一条对话消息
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content   string `json:"content"`
		IsUser    bool   `json:"isUser"`
		SessionID string `json:"sessionId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondJSON(w, http.StatusBadRequest, saveResult{
			Code: 400, Success: false, Message: "invalid request body",
		})
		return
	}

	message, err := h.chatSvc.SaveMessage(r.Context(), payload.Content, payload.IsUser, payload.SessionID)
	if err != nil {
		code := http.StatusInternalServerError
		msg := "保存失败 ❌：" + err.Error()
		if errors.Is(err, chatService.ErrEmptyContent) {
			code = http.StatusBadRequest
			msg = "对话内容不能为空！"
		} else if errors.Is(err, chatService.ErrSessionNotFound) {
			code = http.StatusBadRequest
			msg = err.Error()
		}
		utils.RespondJSON(w, code, saveResult{Code: code, Success: false, Message: msg})
		return
	}

	utils.RespondJSON(w, http.StatusOK, saveResult{
		Code: 200, Success: true, Message: "对话保存成功 ✅", Data: &message,
	})
}

// handleListMessages 获取历史对话
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	messages, err := h.chatSvc.ListMessages(r.Context(), sessionID)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, chatService.ErrSessionNotFound) {
			code = http.StatusBadRequest
		}
		// 兜底：即使报错也返回空数组，避免客户端遍历 nil。
		utils.RespondJSON(w, code, listResult{
			Code: code, Success: false, Message: "查询失败 ❌：" + err.Error(), Data: []model.Message{},
		})
		return
	}

	if messages == nil {
		messages = []model.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, listResult{
		Code: 200, Success: true, Message: "获取历史对话成功 ✅", Data: messages,
	})
}

// handleAIReply 生成AI回复：stream=false 返回完整回复，stream=true
// 将上游事件流原样转发给客户端。
func (h *Handler) handleAIReply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt    string `json:"prompt"`
		SessionID string `json:"sessionId"`
		Stream    bool   `json:"stream"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondJSON(w, http.StatusBadRequest, aiReplyResult{
			Code: 400, Success: false, Message: "invalid request body",
		})
		return
	}

	if strings.TrimSpace(payload.Prompt) == "" {
		utils.RespondJSON(w, http.StatusBadRequest, aiReplyResult{
			Code: 400, Success: false, Message: "提问内容不能为空！",
		})
		return
	}

	history, err := h.chatSvc.RecentMessages(r.Context(), payload.SessionID, h.aiSvc.HistoryLimit())
	if err != nil {
		// 历史记录取不到不阻断回复，继续无上下文生成。
		log.Printf("[chat] failed to load history for session=%s: %v", payload.SessionID, err)
		history = nil
	}

	if payload.Stream {
		h.streamAIReply(w, r, payload.Prompt, history)
		return
	}

	reply, err := h.aiSvc.Complete(r.Context(), payload.Prompt, history)
	if err != nil {
		utils.RespondJSON(w, http.StatusInternalServerError, aiReplyResult{
			Code: 500, Success: false, Message: "AI 回复生成失败：" + err.Error(),
		})
		return
	}

	utils.RespondJSON(w, http.StatusOK, aiReplyResult{
		Code: 200, Success: true, Message: "AI 回复生成成功", Reply: reply,
	})
}

// streamAIReply 以SSE回应。上游关闭流式时退化为一次完整生成，
// 再合成增量帧发出，客户端侧契约不变。
func (h *Handler) streamAIReply(w http.ResponseWriter, r *http.Request, prompt string, history []model.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondJSON(w, http.StatusInternalServerError, aiReplyResult{
			Code: 500, Success: false, Message: "streaming unsupported",
		})
		return
	}

	if !h.aiSvc.StreamingEnabled() {
		h.synthesizeStream(w, r, flusher, prompt, history)
		return
	}

	upstream, err := h.aiSvc.StreamComplete(r.Context(), prompt, history)
	if err != nil {
		// 上游连接失败发生在任何字节发出之前，仍可用JSON说明原因。
		utils.RespondJSON(w, http.StatusInternalServerError, aiReplyResult{
			Code: 500, Success: false, Message: "AI 回复生成失败：" + err.Error(),
		})
		return
	}
	defer upstream.Close()

	utils.SetupSSEHeaders(w)
	if err := utils.CopyStream(w, flusher, upstream); err != nil {
		log.Printf("[stream] forwarding interrupted: %v", err)
	}
}

// synthesizeStream generates the reply in one shot and emits it as a
// single delta frame followed by the terminator.
func (h *Handler) synthesizeStream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, prompt string, history []model.Message) {
	reply, err := h.aiSvc.Complete(r.Context(), prompt, history)
	if err != nil {
		utils.RespondJSON(w, http.StatusInternalServerError, aiReplyResult{
			Code: 500, Success: false, Message: "AI 回复生成失败：" + err.Error(),
		})
		return
	}

	frame, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"delta": map[string]string{"content": reply}},
		},
	})
	if err != nil {
		utils.RespondJSON(w, http.StatusInternalServerError, aiReplyResult{
			Code: 500, Success: false, Message: "AI 回复生成失败：" + err.Error(),
		})
		return
	}

	utils.SetupSSEHeaders(w)
	if err := utils.WriteSSEFrame(w, flusher, frame); err != nil {
		log.Printf("[stream] forwarding interrupted: %v", err)
		return
	}
	if err := utils.WriteSSEFrame(w, flusher, []byte("[DONE]")); err != nil {
		log.Printf("[stream] forwarding interrupted: %v", err)
	}
}
