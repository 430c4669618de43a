package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/achouhan93/ClusterTalk/models"
	"github.com/achouhan93/ClusterTalk/repositories"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const queryLogColumns = `id, request_id, subject, question, question_type, document_ids,
		       status, error_type, source_count, latency_ms, created_at`

// ErrQueryLogNotFound is returned when no record matches
var ErrQueryLogNotFound = repositories.ErrNotFound

// QueryLogRepository implements the repositories.QueryLogRepository interface
type QueryLogRepository struct {
	db     Executor
	logger *zap.Logger
}

// NewQueryLogRepository creates a new query log repository
func NewQueryLogRepository(db Executor, logger *zap.Logger) repositories.QueryLogRepository {
	return &QueryLogRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new query log entry
func (r *QueryLogRepository) Insert(ctx context.Context, log *models.QueryLog) error {
	query := `
		INSERT INTO query_logs (
			id, request_id, subject, question, question_type, document_ids,
			status, error_type, source_count, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.RequestID,
		log.Subject,
		log.Question,
		log.QuestionType,
		pq.Array(log.DocumentIDs),
		log.Status,
		log.ErrorType,
		log.SourceCount,
		log.LatencyMs,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert query log: %w", err)
	}

	r.logger.Debug("query log inserted",
		zap.String("id", log.ID.String()),
		zap.String("status", string(log.Status)))
	return nil
}

// ListRecent retrieves query logs newest first with pagination
func (r *QueryLogRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.QueryLog, error) {
	query := `SELECT ` + queryLogColumns + `
		FROM query_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query query logs: %w", err)
	}
	defer rows.Close()

	logs := make([]*models.QueryLog, 0, limit)
	for rows.Next() {
		log, err := scanQueryLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query logs: %w", err)
	}
	return logs, nil
}

// GetByRequestID retrieves the query log written for a request
func (r *QueryLogRepository) GetByRequestID(ctx context.Context, requestID string) (*models.QueryLog, error) {
	query := `SELECT ` + queryLogColumns + `
		FROM query_logs
		WHERE request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	log, err := scanQueryLog(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrQueryLogNotFound, requestID)
		}
		return nil, err
	}
	return log, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueryLog(row rowScanner) (*models.QueryLog, error) {
	log := &models.QueryLog{}
	var (
		requestID sql.NullString
		subject   sql.NullString
		errorType sql.NullString
	)
	err := row.Scan(
		&log.ID,
		&requestID,
		&subject,
		&log.Question,
		&log.QuestionType,
		pq.Array(&log.DocumentIDs),
		&log.Status,
		&errorType,
		&log.SourceCount,
		&log.LatencyMs,
		&log.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan query log: %w", err)
	}
	log.RequestID = requestID.String
	log.Subject = subject.String
	if errorType.Valid {
		log.ErrorType = &errorType.String
	}
	if log.DocumentIDs == nil {
		log.DocumentIDs = []string{}
	}
	return log, nil
}
