// Package milvus implements the Search Gateway on a Milvus collection.
package milvus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/services"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Default collection schema field names.
const (
	DefaultVectorField     = "embedding"
	DefaultTextField       = "text"
	DefaultDocumentIDField = "document_id"
)

// minSearchEf is the lower bound for the HNSW ef search parameter.
const minSearchEf = 64

// GatewayConfig names the collection and its fields.
type GatewayConfig struct {
	Collection      string
	VectorField     string
	TextField       string
	DocumentIDField string
}

// Gateway runs vector searches against a Milvus collection.
type Gateway struct {
	client  client.Client
	cfg     GatewayConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Connect dials Milvus.
func Connect(ctx context.Context, cfg config.MilvusConfig) (client.Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address(),
		Username: cfg.User,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", cfg.Address(), err)
	}
	return c, nil
}

// NewGateway creates a Milvus Search Gateway. Empty field names fall back
// to the defaults.
func NewGateway(c client.Client, cfg GatewayConfig, metrics *observability.Metrics, logger *zap.Logger) *Gateway {
	if cfg.VectorField == "" {
		cfg.VectorField = DefaultVectorField
	}
	if cfg.TextField == "" {
		cfg.TextField = DefaultTextField
	}
	if cfg.DocumentIDField == "" {
		cfg.DocumentIDField = DefaultDocumentIDField
	}
	return &Gateway{client: c, cfg: cfg, metrics: metrics, logger: logger}
}

// Search returns up to TopK passages ordered by descending cosine similarity.
func (g *Gateway) Search(ctx context.Context, req rag.SearchRequest) ([]rag.Passage, error) {
	if len(req.Vector) == 0 {
		return nil, services.WrapInternal("failed to build search query", errors.New("search vector is empty"))
	}

	expr, err := g.filterExpr(req.QuerySpec)
	if err != nil {
		return nil, services.WrapInternal("failed to build search query", err)
	}

	ef := req.TopK
	if ef < minSearchEf {
		ef = minSearchEf
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, services.WrapInternal("failed to build search query", err)
	}

	ctx, span := observability.StartSpan(ctx, "milvus.search",
		attribute.String("collection", g.cfg.Collection),
		attribute.String("mode", req.Mode.String()),
		attribute.Int("top_k", req.TopK))

	start := time.Now()
	results, err := g.client.Search(ctx,
		g.cfg.Collection,
		nil,
		expr,
		[]string{g.cfg.DocumentIDField, g.cfg.TextField},
		[]entity.Vector{entity.FloatVector(toFloat32(req.Vector))},
		g.cfg.VectorField,
		entity.COSINE,
		req.TopK,
		sp,
	)
	g.metrics.RecordBackendCall("milvus", "search", err, time.Since(start))
	observability.EndSpan(span, err)

	if err != nil {
		g.logger.Warn("milvus search failed",
			zap.String("collection", g.cfg.Collection),
			zap.Error(err))
		msg := "search backend unavailable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = "search backend timed out"
		}
		return nil, services.WrapRetrievalUnavailable(msg, err)
	}

	var passages []rag.Passage
	for _, res := range results {
		if res.Err != nil {
			return nil, services.WrapRetrievalUnavailable("search backend unavailable", res.Err)
		}
		batch, err := g.toPassages(res)
		if err != nil {
			return nil, services.WrapInternal("unexpected search result shape", err)
		}
		passages = append(passages, batch...)
	}

	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	if len(passages) > req.TopK {
		passages = passages[:req.TopK]
	}
	return passages, nil
}

// Ping checks that the collection exists.
func (g *Gateway) Ping(ctx context.Context) error {
	ok, err := g.client.HasCollection(ctx, g.cfg.Collection)
	if err != nil {
		return fmt.Errorf("milvus ping failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("milvus collection %q does not exist", g.cfg.Collection)
	}
	return nil
}

func (g *Gateway) filterExpr(spec rag.QuerySpec) (string, error) {
	if !spec.Filtered() {
		return "", nil
	}
	ids, err := json.Marshal(spec.DocumentIDs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s in %s", g.cfg.DocumentIDField, ids), nil
}

func (g *Gateway) toPassages(res client.SearchResult) ([]rag.Passage, error) {
	docs, err := varcharColumn(res.Fields, g.cfg.DocumentIDField)
	if err != nil {
		return nil, err
	}
	texts, err := varcharColumn(res.Fields, g.cfg.TextField)
	if err != nil {
		return nil, err
	}

	out := make([]rag.Passage, 0, res.ResultCount)
	for i := 0; i < res.ResultCount && i < len(docs) && i < len(texts); i++ {
		p := rag.Passage{DocumentID: docs[i], Text: texts[i]}
		if i < len(res.Scores) {
			p.Score = float64(res.Scores[i])
		}
		if res.IDs != nil {
			if id, err := res.IDs.Get(i); err == nil {
				p.ID = fmt.Sprint(id)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func varcharColumn(fields client.ResultSet, name string) ([]string, error) {
	col := fields.GetColumn(name)
	if col == nil {
		return nil, fmt.Errorf("field %q missing from search result", name)
	}
	vc, ok := col.(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("field %q is %T, want varchar", name, col)
	}
	return vc.Data(), nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
