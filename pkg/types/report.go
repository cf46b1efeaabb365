package types

import "time"

// RunReport summarizes one maintenance run. Every run writes a report, even
// when only a subset of passes executed; per-item failures are enumerated
// rather than aborting the run. Reports are durable: they are the engine's
// reflection log.
type RunReport struct {
	ID        string        `json:"id"`
	Scope     Scope         `json:"scope"`
	Mode      string        `json:"mode"` // light, full, or reflect
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	SessionCount int `json:"session_count"`

	// Consolidation pipeline counts.
	Merges         int `json:"merges"`
	Promotions     int `json:"promotions"`
	Consolidations int `json:"consolidations"`

	// Lifecycle counts.
	Activations int `json:"activations"`
	Archivals   int `json:"archivals"`
	Forgets     int `json:"forgets"`

	// Graph evolution counts.
	EntitiesPruned   int `json:"entities_pruned"`
	EdgesRemoved     int `json:"edges_removed"`
	EdgesInvalidated int `json:"edges_invalidated"`
	Contradictions   int `json:"contradictions"`

	// Strategy adaptation counts.
	WeightsAdapted int `json:"weights_adapted"`

	// Reflection counts.
	NoiseArchived       int `json:"noise_archived"`
	PromotionCandidates int `json:"promotion_candidates"`
	MetaMemoriesCreated int `json:"meta_memories_created"`

	// Error accounting: items skipped (deferred, ineligible, converged)
	// and items that failed outright.
	Skips    int      `json:"skips"`
	Failures []string `json:"failures,omitempty"`
}
