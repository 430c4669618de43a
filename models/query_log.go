package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryStatus is the final outcome of a question
type QueryStatus string

const (
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusFailed    QueryStatus = "failed"
)

// QueryLog is the persisted record of one /ask call
type QueryLog struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	RequestID    string      `json:"request_id" db:"request_id"`
	Subject      string      `json:"subject,omitempty" db:"subject"` // token subject or client IP
	Question     string      `json:"question" db:"question"`
	QuestionType string      `json:"question_type" db:"question_type"`
	DocumentIDs  []string    `json:"document_ids" db:"document_ids"`
	Status       QueryStatus `json:"status" db:"status"`
	ErrorType    *string     `json:"error_type,omitempty" db:"error_type"`
	SourceCount  int         `json:"source_count" db:"source_count"`
	LatencyMs    int         `json:"latency_ms" db:"latency_ms"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the QueryLog model
func (QueryLog) TableName() string {
	return "query_logs"
}

// NewQueryLog creates a new QueryLog instance
func NewQueryLog(requestID, question, questionType string, documentIDs []string) *QueryLog {
	if documentIDs == nil {
		documentIDs = []string{}
	}
	return &QueryLog{
		ID:           uuid.New(),
		RequestID:    requestID,
		Question:     question,
		QuestionType: questionType,
		DocumentIDs:  documentIDs,
		CreatedAt:    time.Now().UTC(),
	}
}

// WithSubject sets who asked the question
func (q *QueryLog) WithSubject(subject string) *QueryLog {
	q.Subject = subject
	return q
}

// Complete marks the query as answered
func (q *QueryLog) Complete(sourceCount int, latency time.Duration) *QueryLog {
	q.Status = QueryStatusCompleted
	q.SourceCount = sourceCount
	q.ErrorType = nil
	q.LatencyMs = int(latency.Milliseconds())
	return q
}

// Fail marks the query as failed with the given error type
func (q *QueryLog) Fail(errorType string, latency time.Duration) *QueryLog {
	q.Status = QueryStatusFailed
	q.SourceCount = 0
	q.ErrorType = &errorType
	q.LatencyMs = int(latency.Milliseconds())
	return q
}
