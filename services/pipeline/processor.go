// Package pipeline sequences strategy selection, retrieval, context assembly
// and answer synthesis for a single question.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/services"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Processor answers questions. It holds only read-only dependencies and the
// in-flight accounting used by Shutdown, so Process is safe for concurrent
// use.
type Processor struct {
	embedder    rag.Embedder
	searcher    rag.Searcher
	assembler   *rag.Assembler
	synthesizer Synthesizer
	observer    StateObserver
	cfg         Config
	metrics     *observability.Metrics
	logger      *zap.Logger

	// base is merged into every request context; Shutdown cancels it when
	// its deadline passes with requests still running.
	base     context.Context
	abort    context.CancelFunc
	mu       sync.RWMutex
	closing  bool
	inflight sync.WaitGroup
}

// NewProcessor creates a Processor. A nil observer records transitions in
// metrics and debug logs.
func NewProcessor(
	embedder rag.Embedder,
	searcher rag.Searcher,
	assembler *rag.Assembler,
	synthesizer Synthesizer,
	observer StateObserver,
	cfg Config,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Processor {
	if observer == nil {
		observer = NewMetricsObserver(metrics, logger)
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	base, abort := context.WithCancel(context.Background())
	return &Processor{
		base:        base,
		abort:       abort,
		embedder:    embedder,
		searcher:    searcher,
		assembler:   assembler,
		synthesizer: synthesizer,
		observer:    observer,
		cfg:         cfg,
		metrics:     metrics,
		logger:      logger,
	}
}

// Process runs one question through the pipeline. It returns either a
// complete answer or a *services.DomainError; never both.
func (p *Processor) Process(ctx context.Context, req Request) (rag.AnswerResult, error) {
	if !p.admit() {
		return rag.AnswerResult{}, services.ErrShuttingDown
	}
	defer p.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.base, cancel)
	defer stop()

	p.metrics.IncInFlight()
	defer p.metrics.DecInFlight()

	ctx, span := observability.StartSpan(ctx, "pipeline.process",
		attribute.String("question_type", string(req.QuestionType)),
		attribute.Int("document_ids", len(req.DocumentIDs)))

	r := &run{req: req, state: StateReceived, startTime: time.Now()}
	p.observer.OnTransition(ctx, Transition{RequestID: req.RequestID, To: StateReceived, At: r.startTime})

	result, err := p.execute(ctx, r)
	if err != nil {
		err = asDomainError(err)
		if p.base.Err() != nil && !services.IsInvalidRequest(err) {
			err = services.NewDomainError(services.ErrorTypeUnavailable, services.ErrShuttingDown.Message, err)
		}
		p.transition(ctx, r, StateFailed, err)
		p.logFailure(r, err)
		p.metrics.RecordQuestion(string(req.QuestionType), "failed", time.Since(r.startTime))
		observability.EndSpan(span, err)
		return rag.AnswerResult{}, err
	}

	p.transition(ctx, r, StateCompleted, nil)
	p.metrics.RecordQuestion(string(req.QuestionType), "completed", time.Since(r.startTime))
	observability.EndSpan(span, nil)

	p.logger.Info("question answered",
		zap.String("request_id", req.RequestID),
		zap.String("question_type", string(req.QuestionType)),
		zap.String("mode", r.spec.Mode.String()),
		zap.Int("retrieved", r.retrieved),
		zap.Int("in_context", len(r.assembled.Passages)),
		zap.Int("sources", len(result.Sources)),
		zap.Duration("latency", time.Since(r.startTime)))
	return result, nil
}

func (p *Processor) execute(ctx context.Context, r *run) (rag.AnswerResult, error) {
	req := r.req

	// Step 1: validate and select the query shape
	if strings.TrimSpace(req.Question) == "" {
		return rag.AnswerResult{}, services.NewInvalidRequest("question is required").
			WithDetail("field", "question")
	}
	spec, err := rag.Select(req.QuestionType, req.DocumentIDs, p.cfg.TopK)
	if err != nil {
		return rag.AnswerResult{}, selectError(err)
	}
	r.spec = spec
	p.transition(ctx, r, StateStrategySelected, nil)

	// Step 2: embed the question and search
	var vector []float64
	err = p.stage(ctx, "embed", p.cfg.EmbeddingTimeout, func(ctx context.Context) error {
		var err error
		vector, err = p.embedder.Embed(ctx, req.Question)
		return err
	})
	if err != nil {
		return rag.AnswerResult{}, err
	}

	var passages []rag.Passage
	err = p.stage(ctx, "search", p.cfg.SearchTimeout, func(ctx context.Context) error {
		var err error
		passages, err = p.searcher.Search(ctx, rag.SearchRequest{QuerySpec: spec, Vector: vector})
		return err
	})
	if err != nil {
		return rag.AnswerResult{}, err
	}
	passages = p.enforceFilter(r, passages)
	p.transition(ctx, r, StateRetrieved, nil)

	// Step 3: assemble the context
	r.assembled = p.assembler.Assemble(passages)
	p.metrics.ObservePassages(r.retrieved, len(r.assembled.Passages))
	p.transition(ctx, r, StateContextAssembled, nil)

	// Step 4: synthesize
	var result rag.AnswerResult
	err = p.stage(ctx, "generate", p.cfg.GenerationTimeout, func(ctx context.Context) error {
		var err error
		result, err = p.synthesizer.Synthesize(ctx, req.Question, r.assembled)
		return err
	})
	if err != nil {
		return rag.AnswerResult{}, err
	}
	if err := checkSources(result.Sources, r.assembled); err != nil {
		return rag.AnswerResult{}, err
	}
	p.transition(ctx, r, StateAnswered, nil)

	return result, nil
}

// stage runs fn under its own timeout and span. The caller's cancellation
// still applies.
func (p *Processor) stage(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := observability.StartSpan(ctx, "pipeline."+name)
	start := time.Now()
	err := fn(ctx)
	p.metrics.ObserveStage(name, time.Since(start))
	observability.EndSpan(span, err)
	return err
}

// enforceFilter drops passages outside a document-specific filter; the
// backends apply the filter too, this keeps the guarantee independent of
// them.
func (p *Processor) enforceFilter(r *run, passages []rag.Passage) []rag.Passage {
	r.retrieved = len(passages)
	if !r.spec.Filtered() {
		return passages
	}

	kept := passages[:0:0]
	for _, passage := range passages {
		if r.spec.Allows(passage.DocumentID) {
			kept = append(kept, passage)
		}
	}
	r.discarded = len(passages) - len(kept)
	if r.discarded > 0 {
		p.logger.Warn("search returned passages outside the document filter",
			zap.String("request_id", r.req.RequestID),
			zap.Int("discarded", r.discarded))
	}
	return kept
}

func (p *Processor) transition(ctx context.Context, r *run, to State, err error) {
	t := Transition{RequestID: r.req.RequestID, From: r.state, To: to, Err: err, At: time.Now()}
	r.state = to
	p.observer.OnTransition(ctx, t)
}

func (p *Processor) logFailure(r *run, err error) {
	fields := []zap.Field{
		zap.String("request_id", r.req.RequestID),
		zap.String("question_type", string(r.req.QuestionType)),
		zap.String("error_type", string(services.GetErrorType(err))),
		zap.Duration("latency", time.Since(r.startTime)),
		zap.Error(err),
	}
	if services.IsInvalidRequest(err) {
		p.logger.Info("question rejected", fields...)
		return
	}
	p.logger.Error("question failed", fields...)
}

// admit registers a request unless Shutdown has begun.
func (p *Processor) admit() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closing {
		return false
	}
	p.inflight.Add(1)
	return true
}

// Shutdown stops admitting requests and waits for in-flight ones to finish.
// When ctx expires first, the remaining requests are cancelled and Shutdown
// waits up to Config.CancelGrace for them to return. Every request has
// returned when the error is nil or wraps context.DeadlineExceeded; only
// ErrDrainIncomplete means some are still running and connections must stay
// open.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("processor drained")
		return nil
	case <-ctx.Done():
	}

	p.logger.Warn("shutdown deadline reached, cancelling in-flight requests",
		zap.Duration("grace", p.cfg.CancelGrace))
	p.abort()

	grace := time.NewTimer(p.cfg.CancelGrace)
	defer grace.Stop()
	select {
	case <-done:
		p.logger.Info("processor drained after cancelling requests")
		return fmt.Errorf("in-flight requests cancelled: %w", ctx.Err())
	case <-grace.C:
		return ErrDrainIncomplete
	}
}

func selectError(err error) error {
	switch {
	case errors.Is(err, rag.ErrUnknownQuestionType):
		return services.NewInvalidRequest("question_type must be 'corpus-based' or 'document-specific'").
			WithDetail("field", "question_type")
	case errors.Is(err, rag.ErrEmptyDocumentIDs):
		return services.NewInvalidRequest("document_ids must contain at least one id for document-specific questions").
			WithDetail("field", "document_ids")
	default:
		return services.WrapInternal("invalid retrieval configuration", err)
	}
}

// checkSources rejects a result citing anything that was not in the context
// sent to the model. A source matches a passage of the same document whose
// trimmed text starts with the source's non-empty excerpt.
func checkSources(sources []rag.Source, ac rag.AssembledContext) error {
	byDocument := make(map[string][]string, len(ac.Passages))
	for _, p := range ac.Passages {
		byDocument[p.DocumentID] = append(byDocument[p.DocumentID], strings.TrimSpace(p.Text))
	}
	for _, s := range sources {
		if !citesContext(s, byDocument[s.DocumentID]) {
			return services.WrapInternal("answer cited an unknown source",
				fmt.Errorf("source from document %q does not match the assembled context", s.DocumentID))
		}
	}
	return nil
}

func citesContext(s rag.Source, texts []string) bool {
	if s.Excerpt == "" {
		return false
	}
	for _, text := range texts {
		if strings.HasPrefix(text, s.Excerpt) {
			return true
		}
	}
	return false
}

func asDomainError(err error) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return services.WrapInternal("internal server error", err)
}
