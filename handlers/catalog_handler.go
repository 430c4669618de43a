package handlers

import (
	"context"
	"net/http"

	"github.com/achouhan93/ClusterTalk/services/search/opensearch"
	"github.com/achouhan93/ClusterTalk/utils"
	"go.uber.org/zap"
)

const defaultBrowseSize = 10

// DocumentCatalog browses the document and cluster indices
type DocumentCatalog interface {
	Documents(ctx context.Context, size int) ([]opensearch.Hit, error)
	Clusters(ctx context.Context) ([]opensearch.Hit, error)
}

// CatalogHandler serves the read-only index browse endpoints
type CatalogHandler struct {
	catalog DocumentCatalog
	logger  *zap.Logger
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(catalog DocumentCatalog, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		logger:  logger,
	}
}

// HandleDocuments handles GET /api/v1/documents?size=N
func (h *CatalogHandler) HandleDocuments(w http.ResponseWriter, r *http.Request) {
	size, err := utils.QueryInt(r, "size", defaultBrowseSize, 1, opensearch.MaxBrowseSize)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	hits, err := h.catalog.Documents(r.Context(), size)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteList(w, hits, len(hits)); err != nil {
		h.logger.Error("failed to write documents response", zap.Error(err))
	}
}

// HandleClusters handles GET /api/v1/clusters
func (h *CatalogHandler) HandleClusters(w http.ResponseWriter, r *http.Request) {
	hits, err := h.catalog.Clusters(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteList(w, hits, len(hits)); err != nil {
		h.logger.Error("failed to write clusters response", zap.Error(err))
	}
}
