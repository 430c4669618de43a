package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/rag"
)

// State is a step of the per-request state machine.
type State string

const (
	StateReceived         State = "received"
	StateStrategySelected State = "strategy_selected"
	StateRetrieved        State = "retrieved"
	StateContextAssembled State = "context_assembled"
	StateAnswered         State = "answered"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Request is one question submitted to the Processor.
type Request struct {
	// RequestID correlates logs; optional
	RequestID string

	Question     string
	QuestionType rag.QuestionType
	DocumentIDs  []string
}

// Synthesizer produces a grounded answer from an assembled context.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, ac rag.AssembledContext) (rag.AnswerResult, error)
}

// Transition is a single state change of one request.
type Transition struct {
	RequestID string
	From      State
	To        State
	// Err is set only when To is StateFailed
	Err error
	At  time.Time
}

// StateObserver is notified of every transition, in order, on the
// request's goroutine.
type StateObserver interface {
	OnTransition(ctx context.Context, t Transition)
}

// ObserverFunc adapts a function to StateObserver.
type ObserverFunc func(ctx context.Context, t Transition)

// OnTransition calls f.
func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) {
	f(ctx, t)
}

// DefaultCancelGrace bounds how long Shutdown waits for cancelled requests.
const DefaultCancelGrace = 5 * time.Second

// ErrDrainIncomplete is returned by Shutdown when cancelled requests did not
// return within the grace period.
var ErrDrainIncomplete = errors.New("in-flight requests did not stop after cancellation")

// Config bounds the external calls of one request.
type Config struct {
	TopK              int
	EmbeddingTimeout  time.Duration
	SearchTimeout     time.Duration
	GenerationTimeout time.Duration
	CancelGrace       time.Duration
}

// run tracks the progress of one request through the pipeline.
type run struct {
	req       Request
	state     State
	startTime time.Time
	spec      rag.QuerySpec
	retrieved int
	discarded int
	assembled rag.AssembledContext
}
