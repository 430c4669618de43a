package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/middleware"
	"github.com/achouhan93/ClusterTalk/models"
	"github.com/achouhan93/ClusterTalk/services"
	"github.com/achouhan93/ClusterTalk/services/pipeline"
	"github.com/achouhan93/ClusterTalk/utils"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxAskBodyBytes = 1 << 20

// AskRequest is the body of POST /ask
type AskRequest struct {
	Question     string   `json:"question" validate:"notblank"`
	QuestionType string   `json:"question_type" validate:"required,oneof=corpus-based document-specific"`
	DocumentIDs  []string `json:"document_ids,omitempty"`
}

// QuestionProcessor answers a single question
type QuestionProcessor interface {
	Process(ctx context.Context, req pipeline.Request) (rag.AnswerResult, error)
}

// QueryRecorder accepts query-log records without blocking
type QueryRecorder interface {
	Record(record *models.QueryLog) error
}

// AskHandler handles question answering requests
type AskHandler struct {
	processor QuestionProcessor
	recorder  QueryRecorder
	logger    *zap.Logger
}

// NewAskHandler creates a new AskHandler. recorder may be nil when the
// query log is disabled.
func NewAskHandler(processor QuestionProcessor, recorder QueryRecorder, logger *zap.Logger) *AskHandler {
	return &AskHandler{
		processor: processor,
		recorder:  recorder,
		logger:    logger,
	}
}

// HandleAsk handles POST /ask and POST /api/v1/ask
func (h *AskHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimw.GetReqID(ctx)
	start := time.Now()

	var req AskRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAskBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, services.NewInvalidRequest("Invalid request body"), h.logger)
		return
	}

	if err := utils.Validate(&req); err != nil {
		h.logger.Info("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	result, err := h.processor.Process(ctx, pipeline.Request{
		RequestID:    requestID,
		Question:     req.Question,
		QuestionType: rag.QuestionType(req.QuestionType),
		DocumentIDs:  req.DocumentIDs,
	})
	h.record(r, req, result, err, time.Since(start))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

func (h *AskHandler) record(r *http.Request, req AskRequest, result rag.AnswerResult, err error, latency time.Duration) {
	if h.recorder == nil {
		return
	}

	entry := models.NewQueryLog(chimw.GetReqID(r.Context()), req.Question, req.QuestionType, req.DocumentIDs)
	subject := middleware.GetSubjectFromContext(r.Context())
	if subject == "" {
		subject = remoteHost(r)
	}
	entry.WithSubject(subject)
	if err != nil {
		errType := services.GetErrorType(err)
		if errType == "" {
			errType = services.ErrorTypeInternal
		}
		entry.Fail(string(errType), latency)
	} else {
		entry.Complete(len(result.Sources), latency)
	}

	// Record logs and counts drops itself.
	_ = h.recorder.Record(entry)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
