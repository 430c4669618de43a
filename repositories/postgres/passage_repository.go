package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/services"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PassageRepository searches a pgvector passage table. The table must have
// the columns id, document_id, content, metadata (jsonb) and embedding (vector).
type PassageRepository struct {
	db      Executor
	table   string
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewPassageRepository creates a pgvector Search Gateway over table
func NewPassageRepository(db Executor, table string, metrics *observability.Metrics, logger *zap.Logger) (*PassageRepository, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid passage table name %q", table)
	}
	return &PassageRepository{
		db:      db,
		table:   table,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Search runs a cosine-distance nearest-neighbour query, optionally limited
// to a document id set.
func (r *PassageRepository) Search(ctx context.Context, req rag.SearchRequest) ([]rag.Passage, error) {
	if len(req.Vector) == 0 {
		return nil, services.WrapInternal("search vector is empty", nil)
	}

	query, args := r.buildQuery(req)

	start := time.Now()
	passages, err := r.query(ctx, query, args)
	r.metrics.RecordBackendCall("postgres", "search", err, time.Since(start))
	if err != nil {
		r.logger.Warn("pgvector search failed",
			zap.String("table", r.table),
			zap.Error(err))
		return nil, err
	}

	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	if len(passages) > req.TopK {
		passages = passages[:req.TopK]
	}

	r.logger.Debug("pgvector search completed",
		zap.String("mode", req.Mode.String()),
		zap.Int("hits", len(passages)))
	return passages, nil
}

func (r *PassageRepository) buildQuery(req rag.SearchRequest) (string, []interface{}) {
	args := []interface{}{vectorLiteral(req.Vector)}

	var b strings.Builder
	b.WriteString(`SELECT id, document_id, content, metadata, 1 - (embedding <=> $1::vector) AS score FROM `)
	b.WriteString(r.table)
	if req.Filtered() {
		args = append(args, pq.Array(req.DocumentIDs))
		b.WriteString(` WHERE document_id = ANY($2)`)
	}
	args = append(args, req.TopK)
	b.WriteString(` ORDER BY embedding <=> $1::vector LIMIT $`)
	b.WriteString(strconv.Itoa(len(args)))
	return b.String(), args
}

func (r *PassageRepository) query(ctx context.Context, query string, args []interface{}) ([]rag.Passage, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, searchUnavailable(ctx, err)
	}
	defer rows.Close()

	var passages []rag.Passage
	for rows.Next() {
		var (
			p        rag.Passage
			metadata []byte
		)
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Text, &metadata, &p.Score); err != nil {
			return nil, services.WrapInternal("unexpected passage row", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
				r.logger.Warn("ignoring malformed passage metadata",
					zap.String("passage_id", p.ID), zap.Error(err))
			}
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, searchUnavailable(ctx, err)
	}
	return passages, nil
}

func searchUnavailable(ctx context.Context, err error) error {
	msg := "search backend unavailable"
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = "search backend timed out"
	}
	return services.WrapRetrievalUnavailable(msg, err)
}

// Ping verifies the passage table is reachable
func (r *PassageRepository) Ping(ctx context.Context) error {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM `+r.table+` LIMIT 1`).Scan(&one)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("passage table check failed: %w", err)
	}
	return nil
}

// vectorLiteral renders v in pgvector's text input format
func vectorLiteral(v []float64) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
