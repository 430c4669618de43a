// Package local serves generation from a self-hosted OpenAI-compatible
// server (vLLM, TGI, llama.cpp) through an eino chat model.
package local

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/services/providers"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const providerName = "local"

// Adapter implements providers.Provider on top of an eino chat model.
type Adapter struct {
	chat    model.BaseChatModel
	baseURL string
	apiKey  string
	probe   *http.Client
}

// NewChatModel builds the eino chat model for a local server. defaultModel
// is used when a request does not name one.
func NewChatModel(ctx context.Context, cfg config.LocalConfig, defaultModel string) (model.BaseChatModel, error) {
	chatModel, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   defaultModel,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create local chat model: %w", err)
	}
	return chatModel, nil
}

func NewAdapter(chat model.BaseChatModel, cfg config.LocalConfig) *Adapter {
	return &Adapter{
		chat:    chat,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		probe:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (a *Adapter) Name() string {
	return providerName
}

// Generate runs one eino Generate call. The eino client hides the HTTP
// status, so every failure is reported as transient.
func (a *Adapter) Generate(ctx context.Context, req *providers.Request) (*providers.Completion, error) {
	out, err := a.chat.Generate(ctx, toSchema(req.Messages), generateOptions(req)...)
	if err != nil {
		return nil, &providers.BackendError{
			Provider:  providerName,
			Message:   "generation failed",
			Transient: true,
			Err:       err,
		}
	}

	c := &providers.Completion{Provider: providerName, Model: req.Model}
	if out == nil {
		return c, nil
	}
	c.Text = out.Content
	if meta := out.ResponseMeta; meta != nil {
		c.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			c.Usage = providers.Usage{
				PromptTokens:     meta.Usage.PromptTokens,
				CompletionTokens: meta.Usage.CompletionTokens,
			}
		}
	}
	return c, nil
}

// Ping probes the server's model listing endpoint.
func (a *Adapter) Ping(ctx context.Context) error {
	return providers.ProbeModels(ctx, a.probe, a.baseURL, a.apiKey)
}

func toSchema(messages []providers.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case providers.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		case providers.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func generateOptions(req *providers.Request) []model.Option {
	var opts []model.Option
	if m := strings.TrimSpace(req.Model); m != "" {
		opts = append(opts, model.WithModel(m))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}
	if req.TopP != nil {
		opts = append(opts, model.WithTopP(*req.TopP))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if len(req.Stop) > 0 {
		opts = append(opts, model.WithStop(req.Stop))
	}
	return opts
}
