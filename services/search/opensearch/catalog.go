package opensearch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/services"
	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"go.uber.org/zap"
)

// MaxBrowseSize caps a single catalog page.
const MaxBrowseSize = 1000

// Hit is one catalog entry returned to API clients.
type Hit struct {
	ID     string                 `json:"id"`
	Score  float64                `json:"score"`
	Source map[string]interface{} `json:"source"`
}

// Catalog browses the document and cluster indexes.
type Catalog struct {
	client        *opensearchgo.Client
	documentIndex string
	clusterIndex  string
	clusterSize   int
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// NewCatalog creates a catalog browser.
func NewCatalog(client *opensearchgo.Client, documentIndex, clusterIndex string, clusterSize int, metrics *observability.Metrics, logger *zap.Logger) *Catalog {
	return &Catalog{
		client:        client,
		documentIndex: documentIndex,
		clusterIndex:  clusterIndex,
		clusterSize:   clusterSize,
		metrics:       metrics,
		logger:        logger,
	}
}

// Documents returns up to size entries of the document index.
func (c *Catalog) Documents(ctx context.Context, size int) ([]Hit, error) {
	return c.browse(ctx, c.documentIndex, size)
}

// Clusters returns the configured number of cluster index entries.
func (c *Catalog) Clusters(ctx context.Context) ([]Hit, error) {
	return c.browse(ctx, c.clusterIndex, c.clusterSize)
}

func (c *Catalog) browse(ctx context.Context, index string, size int) ([]Hit, error) {
	if size < 1 || size > MaxBrowseSize {
		return nil, services.NewInvalidRequest("size must be between 1 and 1000").
			WithDetail("size", size)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"size":  size,
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})

	start := time.Now()
	hits, status, err := doSearch(ctx, c.client, index, body)
	c.metrics.RecordBackendCall("opensearch", "browse", err, time.Since(start))
	if err != nil {
		c.logger.Warn("catalog browse failed",
			zap.String("index", index),
			zap.Int("status", status),
			zap.Error(err))
		return nil, classifySearchError(ctx, status, err)
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		hit := Hit{ID: h.ID, Source: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		if hit.Source == nil {
			hit.Source = map[string]interface{}{}
		}
		out = append(out, hit)
	}
	return out, nil
}
