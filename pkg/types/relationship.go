package types

import "time"

// Relationship represents a directed, typed, weighted edge between two
// entities. Edges are soft-invalidated (InvalidAt set) rather than deleted
// when contradicted or stale, so historical queries keep working; physical
// removal only happens when an endpoint entity is pruned.
type Relationship struct {
	// Core identification fields
	ID     string `json:"id"`      // Unique identifier (format: rel:<uuid>)
	FromID string `json:"from_id"` // Source entity ID
	ToID   string `json:"to_id"`   // Target entity ID
	Type   string `json:"type"`    // Relationship type (e.g. "uses", "causes")
	Scope  Scope  `json:"scope"`

	// Edge properties
	Weight     float64   `json:"weight"`     // Edge strength (0.0-1.0)
	Confidence float64   `json:"confidence"` // Extraction confidence (0.0-1.0)
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Temporal validity
	ValidFrom time.Time  `json:"valid_from"`
	InvalidAt *time.Time `json:"invalid_at,omitempty"` // Soft invalidation timestamp

	// Evidence back-links to supporting memories
	Evidence []string `json:"evidence,omitempty"`
}

// IsActive reports whether the edge participates in active traversal,
// i.e. it has not been soft-invalidated.
func (r *Relationship) IsActive() bool {
	return r.InvalidAt == nil
}

// HasEvidence reports whether memoryID already supports this edge.
func (r *Relationship) HasEvidence(memoryID string) bool {
	for _, id := range r.Evidence {
		if id == memoryID {
			return true
		}
	}
	return false
}
