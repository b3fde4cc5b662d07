package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/qijun/dashchat/backend/internal/config"
	"github.com/qijun/dashchat/backend/internal/model/chat"
)

var (
	ErrMissingAPIKey = errors.New("DASHSCOPE_API_KEY 未配置！请检查全局环境变量")
	ErrEmptyReply    = errors.New("AI 回复为空")
)

// systemInstruction is the fixed head of every outbound message list.
const systemInstruction = "你是一个乐于助人的 AI 助手。"

const apiKeyEnv = "DASHSCOPE_API_KEY"

// Service talks to the DashScope OpenAI-compatible completion endpoint.
// The streaming path hands the raw response body back to the caller so
// provider frames can be forwarded verbatim.
type Service struct {
	cfg    config.AIConfig
	client *http.Client

	// apiKey is resolved per call, never cached, so key rotation takes
	// effect without a restart. Overridable in tests.
	apiKey func() string
}

// NewService creates the provider client.
func NewService(cfg config.AIConfig) *Service {
	return &Service{
		cfg:    cfg,
		client: &http.Client{},
		apiKey: func() string { return os.Getenv(apiKeyEnv) },
	}
}

// StreamingEnabled 指示是否向上游请求流式输出。
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamUp
}

// HistoryLimit returns the context window size in turns.
func (s *Service) HistoryLimit() int {
	return s.cfg.HistoryLimit
}

// Complete issues a blocking completion request and extracts the reply
// from the first choice.
func (s *Service) Complete(ctx context.Context, prompt string, history []chat.Message) (string, error) {
	resp, err := s.do(ctx, prompt, history, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w，返回格式：%s", ErrEmptyReply, raw)
	}

	reply := parsed.Choices[0].Message.Content
	log.Printf("[ai] generated reply, length=%d", len(reply))
	return reply, nil
}

// StreamComplete issues a streaming completion request and returns the
// raw event-stream body unmodified. A non-2xx status fails before any
// bytes are handed out. The caller owns closing the stream.
func (s *Service) StreamComplete(ctx context.Context, prompt string, history []chat.Message) (io.ReadCloser, error) {
	resp, err := s.do(ctx, prompt, history, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (s *Service) do(ctx context.Context, prompt string, history []chat.Message, stream bool) (*http.Response, error) {
	key := SanitizeKey(s.apiKey())
	if key == "" {
		return nil, ErrMissingAPIKey
	}

	messages := s.buildMessages(prompt, history)
	payload := requestBody{
		Model:       s.cfg.Model,
		Messages:    toWire(messages),
		Temperature: s.cfg.Temperature,
		TopP:        s.cfg.TopP,
		MaxTokens:   s.cfg.MaxTokens,
		Stream:      stream,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("AI 回复生成失败：%w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("API 请求失败: %d %s: %s", resp.StatusCode, resp.Status, strings.TrimSpace(string(detail)))
	}
	return resp, nil
}

// buildMessages assembles system instruction, bounded history and the new
// prompt. History keeps only the newest HistoryLimit turns; when its
// chronological tail is a user message identical to the prompt it is the
// already-persisted duplicate of the current turn and gets dropped.
func (s *Service) buildMessages(prompt string, history []chat.Message) []*schema.Message {
	limit := s.cfg.HistoryLimit
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	if n := len(history); n > 0 && history[n-1].IsUser && history[n-1].Content == prompt {
		history = history[:n-1]
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	messages = append(messages, schema.SystemMessage(systemInstruction))
	for _, msg := range history {
		if msg.IsUser {
			messages = append(messages, schema.UserMessage(msg.Content))
		} else {
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return append(messages, schema.UserMessage(prompt))
}

type requestBody struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWire(messages []*schema.Message) []wireMessage {
	wire := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire = append(wire, wireMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return wire
}

// SanitizeKey normalizes an API key pasted from arbitrary sources: trims
// whitespace, converts smart quotes, strips surrounding quote characters
// and removes zero-width characters.
func SanitizeKey(raw string) string {
	key := strings.TrimSpace(raw)
	key = strings.NewReplacer("“", `"`, "”", `"`).Replace(key)
	key = strings.Trim(key, `"`)
	key = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		}
		return r
	}, key)
	return key
}
