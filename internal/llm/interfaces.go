// Package llm defines the text-understanding service boundary consumed by
// the engine: summarization for consolidation and entity/relationship
// extraction for graph evolution. Concrete providers live outside the
// engine; this package supplies the interfaces, a circuit breaker wrapper,
// and a mock for tests.
package llm

import "context"

// ExtractedEntity is one entity surfaced by the extraction service.
type ExtractedEntity struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// ExtractedRelationship is one relationship surfaced by the extraction
// service. From and To reference entity names within the same extraction.
type ExtractedRelationship struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Summarizer produces a single higher-level summary from a group of texts.
// Calls are not assumed idempotent; callers must leave no partial state when
// a call fails.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string) (string, error)
}

// Extractor surfaces entities and relationships from text.
type Extractor interface {
	ExtractEntitiesRelationships(ctx context.Context, text string) ([]ExtractedEntity, []ExtractedRelationship, error)
}

// TextService is the full text-understanding surface the engine consumes.
type TextService interface {
	Summarizer
	Extractor
}
