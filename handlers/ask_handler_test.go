package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/achouhan93/ClusterTalk/internal/rag"
	"github.com/achouhan93/ClusterTalk/middleware"
	"github.com/achouhan93/ClusterTalk/models"
	"github.com/achouhan93/ClusterTalk/services"
	"github.com/achouhan93/ClusterTalk/services/audit"
	"github.com/achouhan93/ClusterTalk/services/pipeline"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockProcessor is a mock implementation of QuestionProcessor
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, req pipeline.Request) (rag.AnswerResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(rag.AnswerResult), args.Error(1)
}

// MockRecorder is a mock implementation of QueryRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(record *models.QueryLog) error {
	args := m.Called(record)
	return args.Error(0)
}

func newAskRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/ask", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.7:40000"
	return req.WithContext(context.WithValue(req.Context(), chimw.RequestIDKey, "req-1"))
}

func TestHandleAsk_Success(t *testing.T) {
	processor := new(MockProcessor)
	recorder := new(MockRecorder)
	handler := NewAskHandler(processor, recorder, zap.NewNop())

	answer := rag.AnswerResult{
		Answer: "Clusters group similar abstracts.",
		Sources: []rag.Source{
			{DocumentID: "doc-1", Excerpt: "Clustering groups..."},
		},
	}
	processor.On("Process", mock.Anything, mock.MatchedBy(func(req pipeline.Request) bool {
		return req.RequestID == "req-1" &&
			req.Question == "What do clusters mean?" &&
			req.QuestionType == rag.DocumentSpecific &&
			assert.ObjectsAreEqual([]string{"doc-1", "doc-2"}, req.DocumentIDs)
	})).Return(answer, nil)
	recorder.On("Record", mock.MatchedBy(func(q *models.QueryLog) bool {
		return q.RequestID == "req-1" &&
			q.Status == models.QueryStatusCompleted &&
			q.SourceCount == 1 &&
			q.Subject == "198.51.100.7"
	})).Return(nil)

	w := httptest.NewRecorder()
	handler.HandleAsk(w, newAskRequest(t, AskRequest{
		Question:     "What do clusters mean?",
		QuestionType: "document-specific",
		DocumentIDs:  []string{"doc-1", "doc-2"},
	}))

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "Clusters group similar abstracts.", response["answer"])
	sources := response["sources"].([]interface{})
	require.Len(t, sources, 1)
	source := sources[0].(map[string]interface{})
	assert.Equal(t, "doc-1", source["document_id"])
	assert.Equal(t, "Clustering groups...", source["excerpt"])

	processor.AssertExpectations(t)
	recorder.AssertExpectations(t)
}

func TestHandleAsk_EmptySourcesSerializeAsArray(t *testing.T) {
	processor := new(MockProcessor)
	handler := NewAskHandler(processor, nil, zap.NewNop())

	processor.On("Process", mock.Anything, mock.Anything).Return(rag.AnswerResult{
		Answer:  "I could not find enough information in the indexed documents to answer this question.",
		Sources: []rag.Source{},
	}, nil)

	w := httptest.NewRecorder()
	handler.HandleAsk(w, newAskRequest(t, AskRequest{Question: "q", QuestionType: "corpus-based"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sources":[]`)
}

func TestHandleAsk_RejectsBeforeProcessing(t *testing.T) {
	tests := []struct {
		name      string
		body      interface{}
		wantField string
	}{
		{"malformed json", `{"question":`, ""},
		{"missing question", map[string]interface{}{"question_type": "corpus-based"}, "question"},
		{"blank question", map[string]interface{}{"question": "  \t", "question_type": "corpus-based"}, "question"},
		{"missing question type", map[string]interface{}{"question": "q"}, "question_type"},
		{"unknown question type", map[string]interface{}{"question": "q", "question_type": "global"}, "question_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockProcessor)
			handler := NewAskHandler(processor, nil, zap.NewNop())

			w := httptest.NewRecorder()
			handler.HandleAsk(w, newAskRequest(t, tt.body))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, "invalid_request", response["error"])
			if tt.wantField != "" {
				assert.Contains(t, response["details"], tt.wantField)
			}
			processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestHandleAsk_ServiceErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantErrorType string
	}{
		{"processor validation", services.NewInvalidRequest("document_ids must name at least one document").WithDetail("field", "document_ids"), http.StatusBadRequest, "invalid_request"},
		{"retrieval down", services.WrapRetrievalUnavailable("search backend unavailable", nil), http.StatusServiceUnavailable, "retrieval_unavailable"},
		{"generation down", services.WrapGenerationUnavailable("generation backend timed out", nil), http.StatusServiceUnavailable, "generation_unavailable"},
		{"malformed", services.WrapGenerationMalformed("generation returned no answer", nil), http.StatusBadGateway, "generation_malformed"},
		{"internal", services.WrapInternal("boom", nil), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockProcessor)
			recorder := new(MockRecorder)
			handler := NewAskHandler(processor, recorder, zap.NewNop())

			processor.On("Process", mock.Anything, mock.Anything).Return(rag.AnswerResult{}, tt.err)
			recorder.On("Record", mock.MatchedBy(func(q *models.QueryLog) bool {
				return q.Status == models.QueryStatusFailed &&
					q.ErrorType != nil && *q.ErrorType == tt.wantErrorType
			})).Return(nil)

			w := httptest.NewRecorder()
			handler.HandleAsk(w, newAskRequest(t, AskRequest{Question: "q", QuestionType: "corpus-based"}))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantErrorType)
			recorder.AssertExpectations(t)
		})
	}
}

func TestHandleAsk_RecordsSubject(t *testing.T) {
	processor := new(MockProcessor)
	recorder := new(MockRecorder)
	handler := NewAskHandler(processor, recorder, zap.NewNop())

	processor.On("Process", mock.Anything, mock.Anything).Return(rag.AnswerResult{Answer: "a", Sources: []rag.Source{}}, nil)
	recorder.On("Record", mock.MatchedBy(func(q *models.QueryLog) bool {
		return q.Subject == "user-42"
	})).Return(audit.ErrBufferFull)

	req := newAskRequest(t, AskRequest{Question: "q", QuestionType: "corpus-based"})
	req = req.WithContext(middleware.WithClaims(req.Context(), &middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
	}))

	w := httptest.NewRecorder()
	handler.HandleAsk(w, req)

	// A full recorder never fails the request.
	assert.Equal(t, http.StatusOK, w.Code)
	recorder.AssertExpectations(t)
}
