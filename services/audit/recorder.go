// Package audit persists one query log record per /ask request on a pool
// of background writers, so a slow database never delays an answer.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/models"
	"github.com/achouhan93/ClusterTalk/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when recording before Start or after Stop.
	ErrNotStarted = errors.New("query log recorder not running")

	// ErrBufferFull is returned when a record is dropped under back-pressure.
	ErrBufferFull = errors.New("query log buffer full")
)

const insertTimeout = 5 * time.Second

type state int

const (
	idle state = iota
	running
	stopped
)

// Config sizes the recorder. Zero fields take the defaults.
type Config struct {
	BufferSize  int
	WorkerCount int
}

func DefaultConfig() Config {
	return Config{BufferSize: 1000, WorkerCount: 2}
}

// Recorder queues query log records and writes them with a fixed set of
// workers. A Recorder runs once: Start, any number of Record calls, Stop.
type Recorder struct {
	repo    repositories.QueryLogRepository
	metrics *observability.Metrics
	logger  *zap.Logger
	cfg     Config

	queue chan *models.QueryLog
	wg    sync.WaitGroup

	// mu orders Record against the close of queue in Stop.
	mu    sync.Mutex
	state state
}

func NewRecorder(repo repositories.QueryLogRepository, metrics *observability.Metrics, logger *zap.Logger, cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = def.WorkerCount
	}
	return &Recorder{
		repo:    repo,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		queue:   make(chan *models.QueryLog, cfg.BufferSize),
	}
}

// Start launches the workers.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != idle {
		return errors.New("query log recorder already started")
	}
	r.wg.Add(r.cfg.WorkerCount)
	for id := range r.cfg.WorkerCount {
		go r.drain(id)
	}
	r.state = running

	r.logger.Info("query log recorder started",
		zap.Int("worker_count", r.cfg.WorkerCount),
		zap.Int("buffer_size", r.cfg.BufferSize))
	return nil
}

// Record queues rec without blocking. A full buffer drops rec and returns
// ErrBufferFull.
func (r *Recorder) Record(rec *models.QueryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != running {
		return ErrNotStarted
	}
	select {
	case r.queue <- rec:
		return nil
	default:
	}

	r.metrics.IncQueryLogDropped()
	r.logger.Warn("query log buffer full, dropping record",
		zap.String("request_id", rec.RequestID),
		zap.String("status", string(rec.Status)))
	return ErrBufferFull
}

// Stop refuses new records and waits until the buffered ones are written
// or ctx expires.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != running {
		r.mu.Unlock()
		return ErrNotStarted
	}
	r.state = stopped
	pending := len(r.queue)
	close(r.queue)
	r.mu.Unlock()

	r.logger.Info("stopping query log recorder", zap.Int("pending_records", pending))

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		r.logger.Info("query log recorder stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("query log recorder stop: %w", ctx.Err())
	}
}

func (r *Recorder) drain(id int) {
	defer r.wg.Done()

	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		err := r.repo.Insert(ctx, rec)
		cancel()
		if err != nil {
			r.logger.Error("failed to write query log",
				zap.Int("worker_id", id),
				zap.String("request_id", rec.RequestID),
				zap.Error(err))
		}
	}
}

// Stats is a point-in-time view of the recorder for the status endpoint.
type Stats struct {
	BufferSize     int  `json:"buffer_size"`
	PendingRecords int  `json:"pending_records"`
	WorkerCount    int  `json:"worker_count"`
	Running        bool `json:"running"`
}

func (r *Recorder) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		BufferSize:     r.cfg.BufferSize,
		PendingRecords: len(r.queue),
		WorkerCount:    r.cfg.WorkerCount,
		Running:        r.state == running,
	}
}
