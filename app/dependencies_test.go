package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/repositories/postgres"
	"github.com/achouhan93/ClusterTalk/services/pipeline"
	"github.com/achouhan93/ClusterTalk/services/ratelimit"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testMetrics() *observability.Metrics {
	reg := prometheus.NewRegistry()
	return observability.NewMetricsWithRegistry(reg, reg)
}

func newOpenSearchStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, openSearchURL string) *config.Config {
	t.Helper()
	profile := config.Profile{
		Name:            "mixtral7B",
		Provider:        config.ProviderLocal,
		EmbeddingModel:  "all-MiniLM-L6-v2",
		GenerationModel: "mistralai/Mixtral-8x7B-Instruct-v0.1",
	}
	return &config.Config{
		Environment: "test",
		Retrieval: config.RetrievalConfig{
			Backend:            config.BackendOpenSearch,
			TopK:               5,
			ContextCharBudget:  2000,
			SourceExcerptChars: 200,
			EmbeddingTimeout:   time.Second,
			SearchTimeout:      time.Second,
			GenerationTimeout:  time.Second,
			StartupMaxWait:     time.Second,
		},
		OpenSearch: config.OpenSearchConfig{
			Node:              openSearchURL,
			EmbeddingIndex:    "passages",
			VectorField:       "embedding",
			TextField:         "text",
			DocumentIDField:   "document_id",
			DocumentIndex:     "documents",
			ClusterIndex:      "clusters",
			ClusterBrowseSize: 361,
		},
		Embedding: config.EmbeddingConfig{
			Model:   "all-MiniLM-L6-v2",
			BaseURL: "http://127.0.0.1:1/v1",
			APIKey:  "test-key",
		},
		Providers: config.ProvidersConfig{
			Local: config.LocalConfig{BaseURL: "http://127.0.0.1:1/v1", APIKey: "test-key", Timeout: time.Second},
		},
		Models: config.ModelsConfig{
			Profiles: config.Profiles{"mixtral7B": profile},
			Active:   "mixtral7B",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("wires the opensearch pipeline", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t, newOpenSearchStub(t).URL)

		deps, err := NewDependencies(ctx, cfg, testMetrics(), zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)

		assert.Equal(t, "mixtral7B", deps.Profile.Name)
		assert.NotNil(t, deps.Searcher)
		assert.NotNil(t, deps.Catalog)
		assert.NotNil(t, deps.Embedder)
		assert.NotNil(t, deps.Synthesizer)
		assert.NotNil(t, deps.Processor)
		assert.Equal(t, []string{"local"}, deps.ProviderRegistry.Names())

		// Optional components stay off
		assert.Nil(t, deps.DB)
		assert.Nil(t, deps.Recorder)
		assert.Nil(t, deps.RateLimiter)
		assert.Nil(t, deps.Authenticator)

		checks := deps.ReadinessChecks()
		assert.Contains(t, checks, "search")
		assert.Contains(t, checks, "generation")
		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("no generation provider", func(t *testing.T) {
		cfg := testConfig(t, newOpenSearchStub(t).URL)
		cfg.Providers = config.ProvidersConfig{}

		deps, err := NewDependencies(context.Background(), cfg, testMetrics(), zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no generation provider")
		assert.Nil(t, deps)
	})

	t.Run("missing profile", func(t *testing.T) {
		cfg := testConfig(t, newOpenSearchStub(t).URL)
		cfg.Models.Active = "unknown"

		deps, err := NewDependencies(context.Background(), cfg, testMetrics(), zap.NewNop())
		assert.Error(t, err)
		assert.Nil(t, deps)
	})

	t.Run("search backend unreachable", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1")
		cfg.Retrieval.StartupMaxWait = 200 * time.Millisecond

		deps, err := NewDependencies(context.Background(), cfg, testMetrics(), zap.NewNop())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "search backend")
		assert.Nil(t, deps)
	})

	t.Run("auth and rate limiting", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t, newOpenSearchStub(t).URL)
		cfg.Auth = config.AuthConfig{Enabled: true, JWTSecret: "secret"}
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, Requests: 10, Window: time.Minute}
		cfg.Redis = config.RedisConfig{Addr: mr.Addr()}

		deps, err := NewDependencies(context.Background(), cfg, testMetrics(), zap.NewNop())
		require.NoError(t, err)

		assert.NotNil(t, deps.Authenticator)
		assert.NotNil(t, deps.RateLimiter)

		checks := deps.ReadinessChecks()
		require.Contains(t, checks, "redis")
		assert.NoError(t, checks["redis"](context.Background()))

		assert.NoError(t, deps.Close(context.Background()))
	})
}

func TestReadinessChecks_Database(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectClose()

	deps := &Dependencies{Logger: zap.NewNop(), DB: postgres.Wrap(db, zap.NewNop())}

	checks := deps.ReadinessChecks()
	require.Contains(t, checks, "database")
	assert.NoError(t, checks["database"](context.Background()))

	require.NoError(t, deps.Close(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClose(t *testing.T) {
	t.Run("nothing initialized", func(t *testing.T) {
		deps := &Dependencies{Logger: zap.NewNop()}
		assert.NoError(t, deps.Close(context.Background()))
	})

	t.Run("closes redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := ratelimit.NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
		deps := &Dependencies{Logger: zap.NewNop(), Redis: client}

		require.NoError(t, deps.Close(context.Background()))
		assert.Error(t, client.Ping(context.Background()).Err())
	})
}

// stuckEmbedder blocks until released, ignoring cancellation.
type stuckEmbedder struct {
	entered chan struct{}
	release chan struct{}
}

func (e *stuckEmbedder) Embed(context.Context, string) ([]float64, error) {
	close(e.entered)
	<-e.release
	return nil, errors.New("released")
}

func TestClose_KeepsConnectionsWhileRequestsRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	embedder := &stuckEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	processor := pipeline.NewProcessor(embedder, nil, rag.NewAssembler(100), nil, nil,
		pipeline.Config{TopK: 1, CancelGrace: 20 * time.Millisecond}, nil, zap.NewNop())

	go func() {
		_, _ = processor.Process(context.Background(), pipeline.Request{Question: "q", QuestionType: rag.CorpusBased})
	}()
	<-embedder.entered

	deps := &Dependencies{Logger: zap.NewNop(), Processor: processor, DB: postgres.Wrap(db, zap.NewNop())}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = deps.Close(ctx)
	assert.ErrorIs(t, err, pipeline.ErrDrainIncomplete)
	assert.NoError(t, mock.ExpectationsWereMet())

	close(embedder.release)
	mock.ExpectClose()
	require.NoError(t, db.Close())
}

func TestWaitFor(t *testing.T) {
	logger := zap.NewNop()

	t.Run("succeeds after retries", func(t *testing.T) {
		var calls atomic.Int32
		err := waitFor(context.Background(), "search", 5*time.Second, logger, func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max wait", func(t *testing.T) {
		start := time.Now()
		err := waitFor(context.Background(), "search", 300*time.Millisecond, logger, func(context.Context) error {
			return errors.New("connection refused")
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "search not ready")
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("zero max wait tries once", func(t *testing.T) {
		var calls atomic.Int32
		err := waitFor(context.Background(), "search", 0, logger, func(context.Context) error {
			calls.Add(1)
			return errors.New("down")
		})
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("stops on context cancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := waitFor(ctx, "search", time.Minute, logger, func(context.Context) error {
			return errors.New("down")
		})
		assert.Error(t, err)
	})
}
