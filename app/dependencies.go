package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/middleware"
	"github.com/achouhan93/ClusterTalk/repositories"
	"github.com/achouhan93/ClusterTalk/repositories/postgres"
	"github.com/achouhan93/ClusterTalk/services/answer"
	"github.com/achouhan93/ClusterTalk/services/audit"
	"github.com/achouhan93/ClusterTalk/services/embedding"
	"github.com/achouhan93/ClusterTalk/services/pipeline"
	"github.com/achouhan93/ClusterTalk/services/providers"
	"github.com/achouhan93/ClusterTalk/services/providers/local"
	"github.com/achouhan93/ClusterTalk/services/providers/openai"
	"github.com/achouhan93/ClusterTalk/services/ratelimit"
	"github.com/achouhan93/ClusterTalk/services/search/milvus"
	"github.com/achouhan93/ClusterTalk/services/search/opensearch"
	"github.com/cenkalti/backoff/v4"
	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SearchBackend is a Search Gateway that can report its own health
type SearchBackend interface {
	rag.Searcher
	Ping(ctx context.Context) error
}

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	DB      *postgres.DB
	Redis   *redis.Client

	openSearch *opensearchgo.Client
	milvus     milvusclient.Client

	// Pipeline
	Profile          config.Profile
	ProviderRegistry *providers.Registry
	Embedder         *embedding.Client
	Searcher         SearchBackend
	Synthesizer      *answer.Synthesizer
	Processor        *pipeline.Processor

	// Supporting services
	Catalog        *opensearch.Catalog
	QueryLogs      repositories.QueryLogRepository
	Recorder       *audit.Recorder
	RateLimiter    *ratelimit.RateLimitService
	Authenticator  *middleware.Authenticator
}

// NewDependencies creates and wires up all application dependencies.
// Anything already opened is released when a later step fails.
func NewDependencies(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	}

	if err := deps.init(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = deps.Close(closeCtx)
		return nil, err
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("profile", deps.Profile.Name),
		zap.String("search_backend", cfg.Retrieval.Backend))
	return deps, nil
}

func (d *Dependencies) init(ctx context.Context) error {
	profile, err := d.Config.Models.ActiveProfile()
	if err != nil {
		return err
	}
	d.Profile = profile

	if d.Config.NeedsDatabase() {
		if err := d.initDatabase(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if err := d.initSearch(ctx); err != nil {
		return fmt.Errorf("failed to initialize search backend: %w", err)
	}

	if err := d.initProviders(ctx); err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := d.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := d.initQueryLog(ctx); err != nil {
		return fmt.Errorf("failed to initialize query log: %w", err)
	}

	d.initRateLimit()
	d.initAuth()
	return nil
}

// initDatabase opens the PostgreSQL pool
func (d *Dependencies) initDatabase(ctx context.Context) error {
	return waitFor(ctx, "postgres", d.Config.Retrieval.StartupMaxWait, d.Logger, func(ctx context.Context) error {
		db, err := postgres.NewDB(ctx, d.Config.Database, d.Logger)
		if err != nil {
			return err
		}
		d.DB = db
		return nil
	})
}

// initSearch connects the Search Gateway selected by SEARCH_BACKEND and
// waits for it to accept requests.
func (d *Dependencies) initSearch(ctx context.Context) error {
	cfg := d.Config

	switch cfg.Retrieval.Backend {
	case config.BackendOpenSearch:
		client, err := opensearch.NewClient(cfg.OpenSearch)
		if err != nil {
			return err
		}
		d.openSearch = client
		d.Searcher = opensearch.NewGateway(client, opensearch.GatewayConfig{
			Index:           cfg.OpenSearch.EmbeddingIndex,
			VectorField:     cfg.OpenSearch.VectorField,
			TextField:       cfg.OpenSearch.TextField,
			DocumentIDField: cfg.OpenSearch.DocumentIDField,
		}, d.Metrics, d.Logger)
		d.Catalog = opensearch.NewCatalog(client, cfg.OpenSearch.DocumentIndex, cfg.OpenSearch.ClusterIndex,
			cfg.OpenSearch.ClusterBrowseSize, d.Metrics, d.Logger)

	case config.BackendMilvus:
		err := waitFor(ctx, "milvus", cfg.Retrieval.StartupMaxWait, d.Logger, func(ctx context.Context) error {
			c, err := milvus.Connect(ctx, cfg.Milvus)
			if err != nil {
				return err
			}
			d.milvus = c
			return nil
		})
		if err != nil {
			return err
		}
		d.Searcher = milvus.NewGateway(d.milvus, milvus.GatewayConfig{Collection: cfg.Milvus.Collection}, d.Metrics, d.Logger)

	case config.BackendPostgres:
		repo, err := postgres.NewPassageRepository(d.DB, cfg.Database.PassageTable, d.Metrics, d.Logger)
		if err != nil {
			return err
		}
		d.Searcher = repo

	default:
		return fmt.Errorf("unsupported search backend %q", cfg.Retrieval.Backend)
	}

	return waitFor(ctx, cfg.Retrieval.Backend, cfg.Retrieval.StartupMaxWait, d.Logger, d.Searcher.Ping)
}

// initProviders builds every configured generation provider
func (d *Dependencies) initProviders(ctx context.Context) error {
	cfg := d.Config
	var configured []providers.Provider

	if cfg.Providers.OpenAI.APIKey != "" {
		configured = append(configured, openai.NewAdapter(cfg.Providers.OpenAI))
	}

	if cfg.Providers.Local.BaseURL != "" {
		defaultModel := ""
		if d.Profile.Provider == config.ProviderLocal {
			defaultModel = d.Profile.GenerationModel
		}
		chat, err := local.NewChatModel(ctx, cfg.Providers.Local, defaultModel)
		if err != nil {
			return err
		}
		configured = append(configured, local.NewAdapter(chat, cfg.Providers.Local))
	}

	if len(configured) == 0 {
		return errors.New("no generation provider configured")
	}
	registry, err := providers.NewRegistry(configured...)
	if err != nil {
		return err
	}
	d.Logger.Info("generation providers ready", zap.Strings("providers", registry.Names()))
	d.ProviderRegistry = registry
	return nil
}

// initPipeline builds the embedding client, synthesizer and processor for
// the active profile
func (d *Dependencies) initPipeline(ctx context.Context) error {
	cfg := d.Config

	embedder, err := embedding.NewEinoEmbedder(ctx, cfg.Embedding, d.Profile.EmbeddingModel, cfg.Retrieval.EmbeddingTimeout)
	if err != nil {
		return err
	}
	d.Embedder = embedding.NewClient(embedder, d.Profile.EmbeddingModel, d.Metrics, d.Logger)

	d.Synthesizer, err = answer.NewSynthesizer(d.ProviderRegistry, d.Profile, cfg.Retrieval.SourceExcerptChars, d.Metrics, d.Logger)
	if err != nil {
		return err
	}

	d.Processor = pipeline.NewProcessor(
		d.Embedder,
		d.Searcher,
		rag.NewAssembler(cfg.Retrieval.ContextCharBudget),
		d.Synthesizer,
		nil,
		pipeline.Config{
			TopK:              cfg.Retrieval.TopK,
			EmbeddingTimeout:  cfg.Retrieval.EmbeddingTimeout,
			SearchTimeout:     cfg.Retrieval.SearchTimeout,
			GenerationTimeout: cfg.Retrieval.GenerationTimeout,
		},
		d.Metrics,
		d.Logger,
	)
	return nil
}

// initQueryLog starts the asynchronous query log recorder
func (d *Dependencies) initQueryLog(ctx context.Context) error {
	if !d.Config.Audit.Enabled {
		d.Logger.Info("query log disabled")
		return nil
	}
	if err := d.DB.InitQueryLogSchema(ctx); err != nil {
		return err
	}

	d.QueryLogs = postgres.NewQueryLogRepository(d.DB, d.Logger)
	d.Recorder = audit.NewRecorder(d.QueryLogs, d.Metrics, d.Logger, audit.Config{
		BufferSize:  d.Config.Audit.BufferSize,
		WorkerCount: d.Config.Audit.Workers,
	})
	return d.Recorder.Start()
}

func (d *Dependencies) initRateLimit() {
	if !d.Config.RateLimit.Enabled {
		return
	}
	d.Redis = ratelimit.NewRedisClient(d.Config.Redis)
	d.RateLimiter = ratelimit.NewRateLimitService(d.Redis, d.Config.RateLimit, d.Logger)
	d.Logger.Info("rate limiting enabled",
		zap.Int("requests", d.Config.RateLimit.Requests),
		zap.Duration("window", d.Config.RateLimit.Window))
}

func (d *Dependencies) initAuth() {
	if !d.Config.Auth.Enabled {
		d.Logger.Warn("auth disabled, /ask is open")
		return
	}
	validator := middleware.NewHMACValidator(d.Config.Auth.JWTSecret, d.Config.Auth.JWTIssuer)
	d.Authenticator = middleware.NewAuthenticator(validator, d.Logger)
}

// ReadinessChecks returns a probe per external dependency
func (d *Dependencies) ReadinessChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if d.Searcher != nil {
		checks["search"] = d.Searcher.Ping
	}
	if d.DB != nil {
		checks["database"] = d.DB.HealthCheck
	}
	if d.RateLimiter != nil {
		checks["redis"] = d.RateLimiter.Ping
	}
	if d.ProviderRegistry != nil {
		if p, err := d.ProviderRegistry.Lookup(d.Profile.Provider); err == nil {
			checks["generation"] = p.Ping
		}
	}
	return checks
}

// Close drains in-flight work, then releases connections.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	var drainErr error
	if d.Processor != nil {
		if drainErr = d.Processor.Shutdown(ctx); drainErr != nil {
			errs = append(errs, fmt.Errorf("failed to drain processor: %w", drainErr))
		}
	}

	if d.Recorder != nil {
		if err := d.Recorder.Stop(ctx); err != nil && !errors.Is(err, audit.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop query log: %w", err))
		}
	}

	// Requests that ignored cancellation may still hold connections.
	if errors.Is(drainErr, pipeline.ErrDrainIncomplete) {
		d.Logger.Error("leaving backend connections open, requests still running")
		return errors.Join(errs...)
	}

	if d.milvus != nil {
		if err := d.milvus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close milvus: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	return errors.Join(errs...)
}

// waitFor retries op with exponential backoff until it succeeds or maxWait
// elapses. It is only used at startup; request paths never retry.
func waitFor(ctx context.Context, name string, maxWait time.Duration, logger *zap.Logger, op func(context.Context) error) error {
	if maxWait <= 0 {
		return op(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = maxWait

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return op(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		logger.Warn("dependency not ready, retrying",
			zap.String("dependency", name),
			zap.Int("attempt", attempt),
			zap.Duration("next_retry", next),
			zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("%s not ready after %d attempts: %w", name, attempt, err)
	}
	logger.Info("dependency ready", zap.String("dependency", name))
	return nil
}
