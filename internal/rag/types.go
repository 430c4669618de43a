package rag

import "context"

// QuestionType is the retrieval scope declared by the caller.
type QuestionType string

const (
	// CorpusBased searches the full indexed collection.
	CorpusBased QuestionType = "corpus-based"
	// DocumentSpecific searches only the caller-supplied documents.
	DocumentSpecific QuestionType = "document-specific"
)

// Valid reports whether t is one of the recognized question types.
func (t QuestionType) Valid() bool {
	switch t {
	case CorpusBased, DocumentSpecific:
		return true
	}
	return false
}

// Passage is a retrievable unit of text with its provenance.
type Passage struct {
	ID         string                 `json:"id,omitempty"`
	DocumentID string                 `json:"document_id"`
	Text       string                 `json:"text"`
	Score      float64                `json:"score"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	// Truncated is set by the assembler when Text was cut to fit the budget.
	Truncated bool `json:"truncated,omitempty"`
}

// Source is a citation emitted with an answer.
type Source struct {
	DocumentID string `json:"document_id"`
	Excerpt    string `json:"excerpt"`
}

// AnswerResult is the externally visible outcome of one question.
type AnswerResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Embedder turns free text into a vector for the configured embedding model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Searcher executes a similarity query against a passage index. Results are
// ordered by descending score and bounded by the request's TopK. An empty
// result is not an error.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]Passage, error)
}
