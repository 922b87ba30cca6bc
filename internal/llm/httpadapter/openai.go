// Package httpadapter implements llm.Adapter against an OpenAI-compatible
// chat-completions endpoint (the wire format Ollama, vLLM, and most local
// model servers also speak). Grounded on teacher's pkg/llms/openai.go
// request/response shapes, trimmed to a single non-streaming Complete call
// (spec.md's turn executor is defined purely in terms of one function-call
// exchange per iteration, not token streaming) and with the observability
// spans/metrics calls replaced by plain log/slog structured logging, since
// OpenTelemetry has no other consumer in this system's scope.
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agentfabric/a2acore/internal/a2aerrors"
	"github.com/agentfabric/a2acore/internal/httpclient"
	"github.com/agentfabric/a2acore/internal/llm"
)

// Config configures an Adapter.
type Config struct {
	BaseURL     string // e.g. "https://api.openai.com/v1"
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
}

// Adapter is an llm.Adapter backed by an OpenAI-compatible HTTP endpoint.
type Adapter struct {
	cfg  Config
	http *httpclient.Client
}

// New creates an Adapter from cfg, filling in the same defaults the
// teacher's provider constructor uses.
func New(cfg Config) *Adapter {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1000
	}
	return &Adapter{
		cfg: cfg,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Tools       []chatTool    `json:"tools,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatResponse struct {
	Choices []chatChoice   `json:"choices"`
	Usage   chatUsage      `json:"usage"`
	Error   *chatAPIError  `json:"error,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatAPIError struct {
	Message string `json:"message"`
}

// Complete implements llm.Adapter.
func (a *Adapter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	wireReq := a.buildRequest(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, a2aerrors.New(a2aerrors.KindLLM, "encode request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, a2aerrors.Wrap(a2aerrors.KindLLM, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	start := time.Now()
	httpResp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, a2aerrors.New(a2aerrors.KindLLM, "request failed: "+err.Error())
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, a2aerrors.New(a2aerrors.KindLLM, "read response: "+err.Error())
	}

	var wireResp chatResponse
	if err := json.Unmarshal(data, &wireResp); err != nil {
		return nil, a2aerrors.New(a2aerrors.KindLLM, fmt.Sprintf("decode response (status %d): %s", httpResp.StatusCode, err.Error()))
	}
	if wireResp.Error != nil {
		return nil, a2aerrors.New(a2aerrors.KindLLM, "model error: "+wireResp.Error.Message)
	}
	if len(wireResp.Choices) == 0 {
		return nil, a2aerrors.New(a2aerrors.KindLLM, "no choices returned")
	}

	slog.Debug("llm completion",
		"model", a.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", wireResp.Usage.PromptTokens,
		"completion_tokens", wireResp.Usage.CompletionTokens,
	)

	msg := wireResp.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, a2aerrors.New(a2aerrors.KindLLM, "malformed tool call arguments: "+err.Error())
			}
		}
		return &llm.Response{Call: &llm.FunctionCall{Name: tc.Function.Name, Arguments: args}}, nil
	}

	return &llm.Response{FinalText: msg.Content}, nil
}

func (a *Adapter) buildRequest(req *llm.Request) chatRequest {
	messages := make([]chatMessage, 0, len(req.History)+1)
	messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})

	for _, h := range req.History {
		messages = append(messages, historyToWire(h))
	}

	tools := make([]chatTool, 0, len(req.Functions))
	for _, f := range req.Functions {
		tools = append(tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        f.Name,
				Description: f.Description,
				Parameters:  f.Parameters,
			},
		})
	}

	maxTokens := a.cfg.MaxTokens
	return chatRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   &maxTokens,
		Temperature: a.cfg.Temperature,
		Tools:       tools,
	}
}

func historyToWire(h llm.HistoryEntry) chatMessage {
	switch h.Role {
	case llm.RoleCapabilityCall:
		args, _ := json.Marshal(h.Arguments)
		return chatMessage{
			Role: "assistant",
			ToolCalls: []chatToolCall{{
				ID:   h.CapabilityKey,
				Type: "function",
				Function: chatFunctionCall{
					Name:      h.CapabilityKey,
					Arguments: string(args),
				},
			}},
		}
	case llm.RoleCapabilityResult:
		content := h.Result
		if h.Err != "" {
			content = "error: " + h.Err
		}
		return chatMessage{Role: "tool", Content: content, ToolCallID: h.CapabilityKey}
	default:
		return chatMessage{Role: string(h.Role), Content: h.Content}
	}
}
