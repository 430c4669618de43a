package milvus

import (
	"context"
	"errors"
	"testing"

	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/services"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClient overrides the calls the gateway makes; anything else panics
// through the nil embedded interface.
type fakeClient struct {
	client.Client

	results    []client.SearchResult
	err        error
	exists     bool
	gotExpr    string
	gotTopK    int
	gotMetric  entity.MetricType
	gotOutputs []string
}

func (f *fakeClient) Search(ctx context.Context, collName string, partitions []string, expr string,
	outputFields []string, vectors []entity.Vector, vectorField string, metricType entity.MetricType,
	topK int, sp entity.SearchParam, opts ...client.SearchQueryOptionFunc) ([]client.SearchResult, error) {
	f.gotExpr = expr
	f.gotTopK = topK
	f.gotMetric = metricType
	f.gotOutputs = outputFields
	return f.results, f.err
}

func (f *fakeClient) HasCollection(ctx context.Context, collName string) (bool, error) {
	return f.exists, f.err
}

func result(ids, docs, texts []string, scores []float32) client.SearchResult {
	return client.SearchResult{
		ResultCount: len(ids),
		IDs:         entity.NewColumnVarChar("id", ids),
		Scores:      scores,
		Fields: client.ResultSet{
			entity.NewColumnVarChar(DefaultDocumentIDField, docs),
			entity.NewColumnVarChar(DefaultTextField, texts),
		},
	}
}

func TestGateway_Search(t *testing.T) {
	fake := &fakeClient{results: []client.SearchResult{
		result([]string{"p1", "p2", "p3"}, []string{"doc-1", "doc-2", "doc-3"}, []string{"a", "b", "c"}, []float32{0.2, 0.8, 0.5}),
	}}
	gw := NewGateway(fake, GatewayConfig{Collection: "passages"}, nil, zap.NewNop())

	passages, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 2},
		Vector:    []float64{0.1, 0.2},
	})
	require.NoError(t, err)

	require.Len(t, passages, 2)
	assert.Equal(t, "doc-2", passages[0].DocumentID)
	assert.Equal(t, "p2", passages[0].ID)
	assert.Equal(t, "doc-3", passages[1].DocumentID)
	assert.Empty(t, fake.gotExpr)
	assert.Equal(t, 2, fake.gotTopK)
	assert.Equal(t, entity.COSINE, fake.gotMetric)
	assert.Equal(t, []string{DefaultDocumentIDField, DefaultTextField}, fake.gotOutputs)
}

func TestGateway_Search_Filtered(t *testing.T) {
	fake := &fakeClient{results: []client.SearchResult{
		result([]string{"p1"}, []string{"doc-1"}, []string{"a"}, []float32{0.9}),
	}}
	gw := NewGateway(fake, GatewayConfig{Collection: "passages"}, nil, zap.NewNop())

	_, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeFilteredSimilarity, DocumentIDs: []string{"doc-1", `we"ird`}, TopK: 3},
		Vector:    []float64{1},
	})
	require.NoError(t, err)
	assert.Equal(t, `document_id in ["doc-1","we\"ird"]`, fake.gotExpr)
}

func TestGateway_Search_BackendError(t *testing.T) {
	fake := &fakeClient{err: errors.New("rpc error: code = Unavailable")}
	gw := NewGateway(fake, GatewayConfig{Collection: "passages"}, nil, zap.NewNop())

	_, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 1},
		Vector:    []float64{1},
	})
	require.Error(t, err)
	assert.True(t, services.IsRetrievalUnavailable(err))
}

func TestGateway_Search_MissingField(t *testing.T) {
	fake := &fakeClient{results: []client.SearchResult{{
		ResultCount: 1,
		Scores:      []float32{0.5},
		Fields:      client.ResultSet{entity.NewColumnVarChar(DefaultDocumentIDField, []string{"doc-1"})},
	}}}
	gw := NewGateway(fake, GatewayConfig{Collection: "passages"}, nil, zap.NewNop())

	_, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 1},
		Vector:    []float64{1},
	})
	assert.True(t, services.IsInternalError(err))
}

func TestGateway_Ping(t *testing.T) {
	gw := NewGateway(&fakeClient{exists: true}, GatewayConfig{Collection: "passages"}, nil, zap.NewNop())
	assert.NoError(t, gw.Ping(context.Background()))

	gw = NewGateway(&fakeClient{exists: false}, GatewayConfig{Collection: "passages"}, nil, zap.NewNop())
	assert.Error(t, gw.Ping(context.Background()))
}
