package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/services/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func question() *providers.Request {
	return &providers.Request{
		Model:    "gpt-4o-mini",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "test"}},
	}
}

func TestNewAdapter(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.OpenAIConfig
		wantURL string
	}{
		{"default base url", config.OpenAIConfig{APIKey: "k"}, defaultBaseURL},
		{"trailing slash trimmed", config.OpenAIConfig{BaseURL: "http://vllm:8000/v1/"}, "http://vllm:8000/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(tt.cfg)
			assert.Equal(t, tt.wantURL, a.baseURL)
			assert.Equal(t, time.Minute, a.client.Timeout)
			assert.Equal(t, "openai", a.Name())
		})
	}
}

func TestAdapter_Generate(t *testing.T) {
	var sent map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Refunds take thirty days."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
		}`)
	}))
	defer server.Close()

	zero := float32(0)
	adapter := NewAdapter(config.OpenAIConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second})
	got, err := adapter.Generate(context.Background(), &providers.Request{
		Model: "gpt-4o-mini",
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "Answer from context."},
			{Role: providers.RoleUser, Content: "Hello"},
		},
		MaxTokens:   100,
		Temperature: &zero,
		Stop:        []string{"</s>"},
	})
	require.NoError(t, err)

	assert.Equal(t, &providers.Completion{
		Provider:     "openai",
		Model:        "gpt-4o-mini-2024-07-18",
		Text:         "Refunds take thirty days.",
		FinishReason: "stop",
		Usage:        providers.Usage{PromptTokens: 10, CompletionTokens: 20},
	}, got)

	// An explicit zero temperature is still sent; unset top_p is not.
	assert.Equal(t, float64(0), sent["temperature"])
	assert.NotContains(t, sent, "top_p")
	assert.Equal(t, float64(100), sent["max_tokens"])
	assert.Len(t, sent["messages"], 2)
}

func TestAdapter_Generate_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"model":"gpt-4o-mini","choices":[]}`)
	}))
	defer server.Close()

	got, err := NewAdapter(config.OpenAIConfig{BaseURL: server.URL}).Generate(context.Background(), question())
	require.NoError(t, err)
	assert.Empty(t, got.Text)
}

func TestAdapter_Generate_Rejected(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
		wantKind      string
		wantMessage   string
	}{
		{
			name:        "client error",
			status:      http.StatusBadRequest,
			body:        `{"error":{"message":"Invalid request","type":"invalid_request_error"}}`,
			wantKind:    "invalid_request_error",
			wantMessage: "Invalid request",
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"message":"Slow down","type":"rate_limit_error"}}`,
			wantTransient: true,
			wantKind:      "rate_limit_error",
			wantMessage:   "Slow down",
		},
		{
			name:          "gateway error without json",
			status:        http.StatusBadGateway,
			body:          `upstream connect error`,
			wantTransient: true,
			wantMessage:   "Bad Gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := NewAdapter(config.OpenAIConfig{BaseURL: server.URL}).Generate(context.Background(), question())

			var be *providers.BackendError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, tt.status, be.Status)
			assert.Equal(t, tt.wantTransient, be.Transient)
			assert.Equal(t, tt.wantKind, be.Kind)
			assert.Equal(t, tt.wantMessage, be.Message)
			assert.Equal(t, int32(1), calls.Load(), "adapter must not retry")
		})
	}
}

func TestAdapter_Generate_Unreachable(t *testing.T) {
	adapter := NewAdapter(config.OpenAIConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := adapter.Generate(context.Background(), question())
	var be *providers.BackendError
	require.ErrorAs(t, err, &be)
	assert.True(t, be.Transient)
	assert.Zero(t, be.Status)
}

func TestAdapter_Generate_RequiresModel(t *testing.T) {
	_, err := NewAdapter(config.OpenAIConfig{}).Generate(context.Background(), &providers.Request{})

	var be *providers.BackendError
	require.ErrorAs(t, err, &be)
	assert.False(t, be.Transient)
}

func TestAdapter_Ping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer server.Close()

	assert.NoError(t, NewAdapter(config.OpenAIConfig{APIKey: "test-key", BaseURL: server.URL}).Ping(context.Background()))
	assert.Error(t, NewAdapter(config.OpenAIConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}).Ping(context.Background()))
}

func TestNewChatRequest_OmitsUnsetParameters(t *testing.T) {
	body, err := json.Marshal(newChatRequest(question()))
	require.NoError(t, err)

	assert.JSONEq(t, `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"test"}]}`, string(body))
}
