// Package rag holds the retrieval-augmented generation domain core.
//
// It defines the two question types a caller can ask, the query shape each
// one maps to, the passages returned by a search backend and the context
// assembler that turns ranked passages into a bounded, de-duplicated prompt
// context. Nothing in this package performs I/O; backends implement the
// Embedder and Searcher contracts declared here.
package rag
