package repositories

import (
	"context"
	"errors"

	"github.com/achouhan93/ClusterTalk/models"
)

// ErrNotFound is returned when a lookup matches no record
var ErrNotFound = errors.New("record not found")

// QueryLogRepository persists the outcome of every question
type QueryLogRepository interface {
	// Insert stores a new query log record
	Insert(ctx context.Context, log *models.QueryLog) error

	// ListRecent returns the newest records first
	ListRecent(ctx context.Context, limit, offset int) ([]*models.QueryLog, error)

	// GetByRequestID returns the record written for an HTTP request
	GetByRequestID(ctx context.Context, requestID string) (*models.QueryLog, error)
}
