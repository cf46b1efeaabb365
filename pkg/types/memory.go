package types

import "time"

// StatusChange is one entry in a memory's status history log.
type StatusChange struct {
	From   Status    `json:"from"`   // Status before the transition
	To     Status    `json:"to"`     // Status after the transition
	Reason string    `json:"reason"` // Why the transition happened
	At     time.Time `json:"at"`     // When the transition happened
}

// Memory represents a single unit of recalled knowledge.
// Memories carry content, an optional embedding, composite scoring inputs,
// access statistics, and a forward-only lifecycle status.
type Memory struct {
	// Core identification fields
	ID        string    `json:"id"`         // Unique identifier (format: mem:<uuid>)
	Content   string    `json:"content"`    // Raw memory content (cleared on forget)
	CreatedAt time.Time `json:"created_at"` // When the memory was stored
	UpdatedAt time.Time `json:"updated_at"` // Last mutation timestamp

	// Classification and organization
	MemoryType MemoryType             `json:"memory_type"`        // episodic, semantic, procedural, working
	Scope      Scope                  `json:"scope"`              // session, project, user
	SessionID  string                 `json:"session_id,omitempty"`
	Tags       []string               `json:"tags,omitempty"`     // Topic tags used for consolidation grouping
	Metadata   map[string]interface{} `json:"metadata,omitempty"` // Arbitrary metadata

	// Embedding for similarity search (dropped on forget)
	Embedding []float32 `json:"embedding,omitempty"`

	// Composite importance and its component inputs, all in [0, 1].
	// Importance is recomputed by the scoring module; the component inputs
	// are owned by external collaborators (retrieval, feedback capture).
	Importance     float64 `json:"importance"`
	RelevanceScore float64 `json:"relevance_score"`
	Confidence     float64 `json:"confidence"`
	OutcomeImpact  float64 `json:"outcome_impact"`
	UserFeedback   float64 `json:"user_feedback"`

	// Access statistics
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// Lifecycle
	Status        Status         `json:"status"`
	StatusHistory []StatusChange `json:"status_history,omitempty"`

	// Provenance for promoted/consolidated memories
	SourceIDs      []string `json:"source_ids,omitempty"`      // Memories this one was consolidated from
	PromotedFrom   string   `json:"promoted_from,omitempty"`   // Memory this one was promoted from
	SourceSessions []string `json:"source_sessions,omitempty"` // Distinct sessions that contributed evidence
}

// LastAccessRef returns the reference time used for decay: LastAccessedAt
// when set, CreatedAt otherwise.
func (m *Memory) LastAccessRef() time.Time {
	if m.LastAccessedAt != nil && !m.LastAccessedAt.IsZero() {
		return *m.LastAccessedAt
	}
	return m.CreatedAt
}

// HasTag reports whether the memory carries the given topic tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RecordStatusChange appends a transition to the status history and applies
// the new status. It does not validate the transition; callers use
// IsValidStatusTransition first.
func (m *Memory) RecordStatusChange(to Status, reason string, at time.Time) {
	m.StatusHistory = append(m.StatusHistory, StatusChange{
		From:   m.Status,
		To:     to,
		Reason: reason,
		At:     at,
	})
	m.Status = to
	m.UpdatedAt = at
}
