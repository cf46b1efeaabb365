package llm

import (
	"context"
	"strings"
	"sync"
)

// MockTextService is a TextService for tests. It returns canned responses,
// optionally fails with a configured error, and counts calls.
type MockTextService struct {
	mu sync.Mutex

	// SummaryResponse is returned by Summarize when set; otherwise the
	// inputs are joined into a deterministic placeholder summary.
	SummaryResponse string

	// Entities and Relationships are returned by
	// ExtractEntitiesRelationships.
	Entities      []ExtractedEntity
	Relationships []ExtractedRelationship

	// Err, when set, is returned by every call.
	Err error

	// Call counters.
	SummarizeCalls int
	ExtractCalls   int
}

// Summarize returns the canned summary or a deterministic join of inputs.
func (m *MockTextService) Summarize(_ context.Context, texts []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SummarizeCalls++
	if m.Err != nil {
		return "", m.Err
	}
	if m.SummaryResponse != "" {
		return m.SummaryResponse, nil
	}
	return "summary: " + strings.Join(texts, " | "), nil
}

// ExtractEntitiesRelationships returns the canned extraction.
func (m *MockTextService) ExtractEntitiesRelationships(_ context.Context, _ string) ([]ExtractedEntity, []ExtractedRelationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExtractCalls++
	if m.Err != nil {
		return nil, nil, m.Err
	}
	return m.Entities, m.Relationships, nil
}

// Calls returns the total number of service calls made.
func (m *MockTextService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SummarizeCalls + m.ExtractCalls
}
