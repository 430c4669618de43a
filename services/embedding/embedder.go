// Package embedding turns question text into vectors through an
// OpenAI-compatible embeddings endpoint.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/services"
	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"
	einoembedding "github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

// NewEinoEmbedder builds the eino OpenAI embedder for model.
func NewEinoEmbedder(ctx context.Context, cfg config.EmbeddingConfig, model string, timeout time.Duration) (einoembedding.Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	embedder, err := einoopenai.NewEmbedder(ctx, &einoopenai.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   model,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return embedder, nil
}

// Client is the pipeline's Embedding Client. It does not retry.
type Client struct {
	embedder einoembedding.Embedder
	model    string
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewClient wraps an eino embedder.
func NewClient(embedder einoembedding.Embedder, model string, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		embedder: embedder,
		model:    model,
		metrics:  metrics,
		logger:   logger,
	}
}

// Model returns the embedding model identifier vectors are tied to.
func (c *Client) Model() string {
	return c.model
}

// Embed returns the vector for text. Any backend failure, including an
// expired context, is reported as a retrieval_unavailable error.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return nil, services.NewInvalidRequest("text to embed is empty")
	}

	start := time.Now()
	vectors, err := c.embedder.EmbedStrings(ctx, []string{text})
	if err == nil && (len(vectors) != 1 || len(vectors[0]) == 0) {
		err = fmt.Errorf("expected 1 non-empty vector, got %d", len(vectors))
	}
	c.metrics.RecordBackendCall("embedding", "embed", err, time.Since(start))

	if err != nil {
		msg := "embedding service unavailable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "embedding service timed out"
		}
		c.logger.Warn("embedding failed", zap.String("model", c.model), zap.Error(err))
		return nil, services.WrapRetrievalUnavailable(msg, err)
	}

	return vectors[0], nil
}
