package handlers

import (
	"errors"
	"net/http"

	"github.com/achouhan93/ClusterTalk/repositories"
	"github.com/achouhan93/ClusterTalk/services"
	"github.com/achouhan93/ClusterTalk/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultQueryLogLimit = 50
	maxQueryLogLimit     = 500
)

// QueryLogHandler exposes recorded questions to administrators
type QueryLogHandler struct {
	repo   repositories.QueryLogRepository
	logger *zap.Logger
}

// NewQueryLogHandler creates a new QueryLogHandler
func NewQueryLogHandler(repo repositories.QueryLogRepository, logger *zap.Logger) *QueryLogHandler {
	return &QueryLogHandler{
		repo:   repo,
		logger: logger,
	}
}

// HandleList handles GET /api/v1/queries?limit=N&offset=M
func (h *QueryLogHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := utils.QueryInt(r, "limit", defaultQueryLogLimit, 1, maxQueryLogLimit)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	offset, err := utils.QueryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	logs, err := h.repo.ListRecent(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list queries", err), h.logger)
		return
	}

	if err := utils.WriteList(w, logs, len(logs)); err != nil {
		h.logger.Error("failed to write query log response", zap.Error(err))
	}
}

// HandleGet handles GET /api/v1/queries/{requestID}
func (h *QueryLogHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	log, err := h.repo.GetByRequestID(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			HandleServiceError(w, services.NewDomainError(services.ErrorTypeNotFound, "query not found", err), h.logger)
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to load query", err), h.logger)
		return
	}

	if err := utils.WriteData(w, http.StatusOK, log); err != nil {
		h.logger.Error("failed to write query log response", zap.Error(err))
	}
}
