package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/services/audit"
	"github.com/achouhan93/ClusterTalk/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 5 * time.Second

// Checker probes one dependency
type Checker func(ctx context.Context) error

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checks map[string]Checker
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. checks maps dependency names
// (search, database, redis) to probes.
func NewHealthHandler(checks map[string]Checker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteData(w, http.StatusOK, response)
}

// HandleReadiness handles GET /readyz
// Probes every dependency concurrently; any failure makes the service not ready.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checks))
	)
	var g errgroup.Group
	for name, check := range h.checks {
		g.Go(func() error {
			err := check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Warn("readiness check failed",
					zap.String("dependency", name),
					zap.Error(err))
				checks[name] = "unhealthy"
				return err
			}
			checks[name] = "healthy"
			return nil
		})
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if err := g.Wait(); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteData(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// ProviderLister lists registered generation providers
type ProviderLister interface {
	Names() []string
}

// StatsReporter reports query-log recorder state
type StatsReporter interface {
	GetStats() audit.Stats
}

// StatusResponse describes the running configuration
type StatusResponse struct {
	Service         string       `json:"service"`
	Environment     string       `json:"environment"`
	Profile         string       `json:"profile"`
	Provider        string       `json:"provider"`
	GenerationModel string       `json:"generation_model"`
	EmbeddingModel  string       `json:"embedding_model"`
	SearchBackend   string       `json:"search_backend"`
	Providers       []string     `json:"providers"`
	Profiles        []string     `json:"profiles"`
	QueryLog        *audit.Stats `json:"query_log,omitempty"`
	Uptime          string       `json:"uptime"`
}

// StatusHandler reports the active model profile and backends
type StatusHandler struct {
	cfg       *config.Config
	profile   config.Profile
	providers ProviderLister
	recorder  StatsReporter
	startedAt time.Time
	logger    *zap.Logger
}

// NewStatusHandler creates a new StatusHandler. recorder may be nil.
func NewStatusHandler(cfg *config.Config, profile config.Profile, providers ProviderLister, recorder StatsReporter, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		cfg:       cfg,
		profile:   profile,
		providers: providers,
		recorder:  recorder,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// HandleStatus handles GET /api/v1/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	providers := h.providers.Names()
	sort.Strings(providers)

	response := StatusResponse{
		Service:         h.cfg.Observability.ServiceName,
		Environment:     h.cfg.Environment,
		Profile:         h.profile.Name,
		Provider:        h.profile.Provider,
		GenerationModel: h.profile.GenerationModel,
		EmbeddingModel:  h.profile.EmbeddingModel,
		SearchBackend:   h.cfg.Retrieval.Backend,
		Providers:       providers,
		Profiles:        h.cfg.Models.Profiles.Names(),
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
	}
	if h.recorder != nil {
		stats := h.recorder.GetStats()
		response.QueryLog = &stats
	}

	if err := utils.WriteData(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}
