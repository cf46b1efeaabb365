package types

import "time"

// Entity represents a named thing (concept, tool, file, person, decision)
// extracted from memories. Within a scope and type, no two entities may sit
// above the dedup similarity threshold; merge-on-create enforces this.
type Entity struct {
	// Core identification fields
	ID          string    `json:"id"`   // Unique identifier (format: ent:<uuid>)
	Name        string    `json:"name"` // Display name
	Type        string    `json:"type"` // Entity type (tool, file, person, ...)
	Description string    `json:"description,omitempty"`
	Scope       Scope     `json:"scope"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Embedding for entity similarity
	Embedding []float32 `json:"embedding,omitempty"`

	// Statistics and provenance
	MentionCount int       `json:"mention_count"` // Times this entity was mentioned
	Confidence   float64   `json:"confidence"`    // Extraction confidence (0.0-1.0)
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}
