package rag

import (
	"errors"
	"strings"
)

// QueryMode is the shape of a search query.
type QueryMode int

const (
	// ModeSimilarity is an unfiltered nearest-neighbour search.
	ModeSimilarity QueryMode = iota + 1
	// ModeFilteredSimilarity restricts the search to DocumentIDs.
	ModeFilteredSimilarity
)

func (m QueryMode) String() string {
	switch m {
	case ModeSimilarity:
		return "similarity"
	case ModeFilteredSimilarity:
		return "filtered-similarity"
	}
	return "unknown"
}

var (
	ErrUnknownQuestionType = errors.New("unknown question type")
	ErrEmptyDocumentIDs    = errors.New("document-specific question requires at least one document id")
	ErrInvalidTopK         = errors.New("top_k must be positive")
)

// QuerySpec describes the search a question maps to.
type QuerySpec struct {
	Mode        QueryMode
	DocumentIDs []string
	TopK        int
}

// Filtered reports whether the query is restricted to a document set.
func (q QuerySpec) Filtered() bool {
	return q.Mode == ModeFilteredSimilarity
}

// Allows reports whether a passage from documentID may appear in the result.
func (q QuerySpec) Allows(documentID string) bool {
	if !q.Filtered() {
		return true
	}
	for _, id := range q.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// SearchRequest is a QuerySpec paired with the question embedding.
type SearchRequest struct {
	QuerySpec
	Vector []float64
}

// Select maps a question type and document filter to a query shape.
//
// Corpus-based questions ignore documentIDs entirely. Document-specific
// questions keep the trimmed, de-duplicated ids in their original order and
// fail with ErrEmptyDocumentIDs when none remain; there is no fallback to a
// corpus-wide search.
func Select(questionType QuestionType, documentIDs []string, topK int) (QuerySpec, error) {
	if topK < 1 {
		return QuerySpec{}, ErrInvalidTopK
	}

	switch questionType {
	case CorpusBased:
		return QuerySpec{Mode: ModeSimilarity, TopK: topK}, nil
	case DocumentSpecific:
		ids := normalizeIDs(documentIDs)
		if len(ids) == 0 {
			return QuerySpec{}, ErrEmptyDocumentIDs
		}
		return QuerySpec{Mode: ModeFilteredSimilarity, DocumentIDs: ids, TopK: topK}, nil
	default:
		return QuerySpec{}, ErrUnknownQuestionType
	}
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
