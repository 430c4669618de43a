// Package openai calls the hosted OpenAI chat completions endpoint over
// plain HTTP.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"

	// Error bodies beyond this are not worth decoding.
	maxErrorBody = 64 << 10
)

// Adapter is the providers.Provider for OpenAI.
type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewAdapter(cfg config.OpenAIConfig) *Adapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Adapter{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *Adapter) Name() string {
	return providerName
}

// Generate sends one chat completion request and keeps the first choice.
func (a *Adapter) Generate(ctx context.Context, req *providers.Request) (*providers.Completion, error) {
	if req.Model == "" {
		return nil, &providers.BackendError{Provider: providerName, Message: "model is required"}
	}

	payload, err := json.Marshal(newChatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, providers.Unreachable(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, rejection(resp)
	}

	var reply chatReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, &providers.BackendError{
			Provider: providerName,
			Status:   resp.StatusCode,
			Message:  "undecodable reply",
			Err:      err,
		}
	}
	return reply.completion(), nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	return providers.ProbeModels(ctx, a.client, a.baseURL, a.apiKey)
}

func rejection(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &body)
	return providers.Rejected(providerName, resp.StatusCode, body.Error.Type, body.Error.Message)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Unset sampling parameters are omitted so the API applies its defaults.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

func newChatRequest(req *providers.Request) chatRequest {
	out := chatRequest{
		Model:       req.Model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage(m))
	}
	return out
}

type chatReply struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (r chatReply) completion() *providers.Completion {
	c := &providers.Completion{
		Provider: providerName,
		Model:    r.Model,
		Usage: providers.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
		},
	}
	if len(r.Choices) > 0 {
		c.Text = r.Choices[0].Message.Content
		c.FinishReason = r.Choices[0].FinishReason
	}
	return c
}
