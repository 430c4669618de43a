package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/services"
	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeCluster serves the root info endpoint and hands _search requests to search.
func fakeCluster(t *testing.T, search http.HandlerFunc) *opensearchgo.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/_search") {
			search(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"version":{"number":"2.11.0","distribution":"opensearch"}}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(config.OpenSearchConfig{Node: srv.URL})
	require.NoError(t, err)
	return client
}

func testGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Index:           "passages",
		VectorField:     "embedding",
		TextField:       "text",
		DocumentIDField: "document_id",
	}
}

func writeHits(w http.ResponseWriter, hits string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"hits":{"total":{"value":3},"hits":`+hits+`}}`)
}

func TestGateway_Search_Similarity(t *testing.T) {
	var captured map[string]interface{}
	client := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/passages/_search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeHits(w, `[
			{"_id":"p2","_score":0.4,"_source":{"document_id":"doc-2","text":"second","section":"intro"}},
			{"_id":"p1","_score":0.9,"_source":{"document_id":"doc-1","text":"first"}},
			{"_id":"p3","_score":0.1,"_source":{"document_id":"doc-3","text":"third"}}
		]`)
	})

	gw := NewGateway(client, testGatewayConfig(), nil, zap.NewNop())
	passages, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 2},
		Vector:    []float64{0.1, 0.2},
	})
	require.NoError(t, err)

	require.Len(t, passages, 2)
	assert.Equal(t, "doc-1", passages[0].DocumentID)
	assert.Equal(t, "first", passages[0].Text)
	assert.InDelta(t, 0.9, passages[0].Score, 1e-9)
	assert.Equal(t, "doc-2", passages[1].DocumentID)
	assert.Equal(t, "intro", passages[1].Metadata["section"])

	assert.EqualValues(t, 2, captured["size"])
	knn := captured["query"].(map[string]interface{})["knn"].(map[string]interface{})["embedding"].(map[string]interface{})
	assert.EqualValues(t, 2, knn["k"])
	assert.NotContains(t, knn, "filter")
	excludes := captured["_source"].(map[string]interface{})["excludes"].([]interface{})
	assert.Equal(t, []interface{}{"embedding"}, excludes)
}

func TestGateway_Search_FilteredSimilarity(t *testing.T) {
	var captured map[string]interface{}
	client := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeHits(w, `[{"_id":"p1","_score":0.7,"_source":{"document_id":"doc-1","text":"only"}}]`)
	})

	gw := NewGateway(client, testGatewayConfig(), nil, zap.NewNop())
	passages, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeFilteredSimilarity, DocumentIDs: []string{"doc-1", "doc-9"}, TopK: 5},
		Vector:    []float64{0.5},
	})
	require.NoError(t, err)
	require.Len(t, passages, 1)

	knn := captured["query"].(map[string]interface{})["knn"].(map[string]interface{})["embedding"].(map[string]interface{})
	terms := knn["filter"].(map[string]interface{})["terms"].(map[string]interface{})
	assert.Equal(t, []interface{}{"doc-1", "doc-9"}, terms["document_id"])
}

func TestGateway_Search_EmptyResult(t *testing.T) {
	client := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		writeHits(w, `[]`)
	})

	gw := NewGateway(client, testGatewayConfig(), nil, zap.NewNop())
	passages, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 3},
		Vector:    []float64{1},
	})
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestGateway_Search_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"server error is unavailable", http.StatusServiceUnavailable, services.IsRetrievalUnavailable},
		{"throttled is unavailable", http.StatusTooManyRequests, services.IsRetrievalUnavailable},
		{"bad query is internal", http.StatusBadRequest, services.IsInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":"boom"}`)
			})

			gw := NewGateway(client, testGatewayConfig(), nil, zap.NewNop())
			_, err := gw.Search(context.Background(), rag.SearchRequest{
				QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 1},
				Vector:    []float64{1},
			})
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error type: %v", err)
		})
	}
}

func TestGateway_Search_Unreachable(t *testing.T) {
	client, err := NewClient(config.OpenSearchConfig{Node: "http://127.0.0.1:1"})
	require.NoError(t, err)

	gw := NewGateway(client, testGatewayConfig(), nil, zap.NewNop())
	_, err = gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 1},
		Vector:    []float64{1},
	})
	require.Error(t, err)
	assert.True(t, services.IsRetrievalUnavailable(err))
	assert.Equal(t, "search backend unavailable", services.PublicMessage(err))
}

func TestGateway_Search_RejectsEmptyVector(t *testing.T) {
	gw := NewGateway(nil, testGatewayConfig(), nil, zap.NewNop())
	_, err := gw.Search(context.Background(), rag.SearchRequest{
		QuerySpec: rag.QuerySpec{Mode: rag.ModeSimilarity, TopK: 1},
	})
	assert.True(t, services.IsInternalError(err))
}

func TestGateway_DocumentIDFallsBackToHitID(t *testing.T) {
	gw := NewGateway(nil, testGatewayConfig(), nil, zap.NewNop())
	score := 0.3
	p := gw.toPassage(searchHit{ID: "hit-1", Score: &score, Source: map[string]interface{}{"text": "body"}})

	assert.Equal(t, "hit-1", p.DocumentID)
	assert.Equal(t, "body", p.Text)
	assert.Nil(t, p.Metadata)
}

func TestNewClient_RequiresNode(t *testing.T) {
	_, err := NewClient(config.OpenSearchConfig{})
	assert.Error(t, err)
}
