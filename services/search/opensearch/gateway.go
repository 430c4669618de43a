package opensearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/services"
	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// GatewayConfig names the passage index and its fields.
type GatewayConfig struct {
	Index           string
	VectorField     string
	TextField       string
	DocumentIDField string
}

// Gateway runs k-NN queries against the passage index.
type Gateway struct {
	client  *opensearchgo.Client
	cfg     GatewayConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewGateway creates an OpenSearch Search Gateway.
func NewGateway(client *opensearchgo.Client, cfg GatewayConfig, metrics *observability.Metrics, logger *zap.Logger) *Gateway {
	return &Gateway{
		client:  client,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Search returns up to TopK passages ordered by descending score.
func (g *Gateway) Search(ctx context.Context, req rag.SearchRequest) ([]rag.Passage, error) {
	body, err := g.buildQuery(req)
	if err != nil {
		return nil, services.WrapInternal("failed to build search query", err)
	}

	ctx, span := observability.StartSpan(ctx, "opensearch.search",
		attribute.String("index", g.cfg.Index),
		attribute.String("mode", req.Mode.String()),
		attribute.Int("top_k", req.TopK))

	start := time.Now()
	hits, status, err := doSearch(ctx, g.client, g.cfg.Index, body)
	g.metrics.RecordBackendCall("opensearch", "search", err, time.Since(start))
	observability.EndSpan(span, err)

	if err != nil {
		g.logger.Warn("opensearch search failed",
			zap.String("index", g.cfg.Index),
			zap.Int("status", status),
			zap.Error(err))
		return nil, classifySearchError(ctx, status, err)
	}

	passages := make([]rag.Passage, 0, len(hits))
	for _, hit := range hits {
		passages = append(passages, g.toPassage(hit))
	}
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	if len(passages) > req.TopK {
		passages = passages[:req.TopK]
	}

	g.logger.Debug("opensearch search completed",
		zap.String("mode", req.Mode.String()),
		zap.Int("hits", len(passages)))
	return passages, nil
}

// Ping checks the cluster is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	return Ping(ctx, g.client)
}

func (g *Gateway) buildQuery(req rag.SearchRequest) ([]byte, error) {
	if len(req.Vector) == 0 {
		return nil, errors.New("search vector is empty")
	}

	knn := map[string]interface{}{
		"vector": req.Vector,
		"k":      req.TopK,
	}
	if req.Filtered() {
		knn["filter"] = map[string]interface{}{
			"terms": map[string]interface{}{
				g.cfg.DocumentIDField: req.DocumentIDs,
			},
		}
	}

	query := map[string]interface{}{
		"size": req.TopK,
		"query": map[string]interface{}{
			"knn": map[string]interface{}{
				g.cfg.VectorField: knn,
			},
		},
		"_source": map[string]interface{}{
			"excludes": []string{g.cfg.VectorField},
		},
	}
	return json.Marshal(query)
}

func (g *Gateway) toPassage(hit searchHit) rag.Passage {
	p := rag.Passage{ID: hit.ID}
	if hit.Score != nil {
		p.Score = *hit.Score
	}

	metadata := make(map[string]interface{}, len(hit.Source))
	for k, v := range hit.Source {
		switch k {
		case g.cfg.TextField:
			p.Text = stringify(v)
		case g.cfg.DocumentIDField:
			p.DocumentID = stringify(v)
		case g.cfg.VectorField:
		default:
			metadata[k] = v
		}
	}
	if len(metadata) > 0 {
		p.Metadata = metadata
	}
	if p.DocumentID == "" {
		p.DocumentID = hit.ID
	}
	return p
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// classifySearchError maps a failed search to the pipeline taxonomy:
// transport failures, timeouts, throttling and 5xx are retrieval_unavailable,
// anything else the cluster rejected is internal.
func classifySearchError(ctx context.Context, status int, err error) error {
	switch {
	case status == 0, status >= http.StatusInternalServerError, status == http.StatusTooManyRequests:
		msg := "search backend unavailable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "search backend timed out"
		}
		return services.WrapRetrievalUnavailable(msg, err)
	default:
		return services.WrapInternal("search query rejected", err)
	}
}
