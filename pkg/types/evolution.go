package types

import "time"

// ConsolidationReason explains why a queue item was enqueued.
type ConsolidationReason string

const (
	// ReasonStrengthDecay marks a memory whose strength dropped below the
	// consolidation threshold while still carrying access evidence.
	ReasonStrengthDecay ConsolidationReason = "strength_decay"

	// ReasonEpisodicToSemantic marks a group of episodic memories sharing a
	// topic tag, ready to be summarized into one semantic memory.
	ReasonEpisodicToSemantic ConsolidationReason = "episodic_to_semantic"
)

// ConsolidationQueueItem is a pending request to merge, summarize, or
// consolidate one or more memories. Items are removed once processed;
// deferred items stay queued and are retried on the next pass.
type ConsolidationQueueItem struct {
	ID         string              `json:"id"`
	Reason     ConsolidationReason `json:"reason"`
	MemoryIDs  []string            `json:"memory_ids"`
	TopicTag   string              `json:"topic_tag,omitempty"` // Shared tag for episodic grouping
	Scope      Scope               `json:"scope"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
	Attempts   int                 `json:"attempts"`
}

// ContradictionItem surfaces a pair of semantically opposed edges between
// the same entities. The engine never auto-resolves contradictions; items
// stay queued until an external reviewer (human or LLM-assisted) acts.
type ContradictionItem struct {
	ID         string    `json:"id"`
	EntityID   string    `json:"entity_id"` // Shared source entity
	TargetID   string    `json:"target_id"` // Shared target entity
	EdgeIDs    []string  `json:"edge_ids"`  // The two conflicting edges
	Types      []string  `json:"types"`     // Their relation types
	Scope      Scope     `json:"scope"`
	DetectedAt time.Time `json:"detected_at"`
}

// RetrievalStrategy names a retrieval mode.
type RetrievalStrategy string

const (
	StrategyVector  RetrievalStrategy = "vector"
	StrategyKeyword RetrievalStrategy = "keyword"
	StrategyGraph   RetrievalStrategy = "graph"
)

// Retrieval feedback labels. Empty means no explicit signal.
const (
	FeedbackHelpful   = "helpful"
	FeedbackUnhelpful = "unhelpful"
)

// RetrievalLog records one retrieval invocation. Immutable once written;
// the strategy adapter treats it as the source of truth.
type RetrievalLog struct {
	ID              string            `json:"id"`
	Scope           Scope             `json:"scope"`
	QueryType       string            `json:"query_type"` // Caller's query classification
	Strategy        RetrievalStrategy `json:"strategy"`
	ResultsReturned int               `json:"results_returned"`
	ResultsUsed     int               `json:"results_used"`
	Feedback        string            `json:"feedback,omitempty"` // helpful, unhelpful, or empty
	LatencyMS       int64             `json:"latency_ms"`
	Timestamp       time.Time         `json:"timestamp"`
}

// Helpful reports whether this retrieval counts as a positive outcome.
// Explicit feedback wins; absent a label, a retrieval whose results were
// actually used is treated as implicitly helpful.
func (l *RetrievalLog) Helpful() bool {
	switch l.Feedback {
	case FeedbackHelpful:
		return true
	case FeedbackUnhelpful:
		return false
	}
	return l.ResultsUsed > 0
}

// StrategyWeights holds the per (scope, query type) blend of retrieval-mode
// weights. Weights are non-negative and renormalized to sum 1 after every
// update. Upsert semantics: never created twice for the same key.
type StrategyWeights struct {
	Scope     Scope     `json:"scope"`
	QueryType string    `json:"query_type"`
	Vector    float64   `json:"vector_weight"`
	Keyword   float64   `json:"keyword_weight"`
	Graph     float64   `json:"graph_weight"`
	Samples   int       `json:"samples"`     // Logs seen by the adapter so far
	StableRuns int      `json:"stable_runs"` // Consecutive passes with negligible delta
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultStrategyWeights returns the neutral starting blend for a key.
func DefaultStrategyWeights(scope Scope, queryType string) *StrategyWeights {
	return &StrategyWeights{
		Scope:     scope,
		QueryType: queryType,
		Vector:    0.4,
		Keyword:   0.3,
		Graph:     0.3,
	}
}

// Weight returns the weight dimension matching a strategy.
func (w *StrategyWeights) Weight(s RetrievalStrategy) float64 {
	switch s {
	case StrategyVector:
		return w.Vector
	case StrategyKeyword:
		return w.Keyword
	case StrategyGraph:
		return w.Graph
	}
	return 0
}

// SetWeight writes the weight dimension matching a strategy.
func (w *StrategyWeights) SetWeight(s RetrievalStrategy, v float64) {
	switch s {
	case StrategyVector:
		w.Vector = v
	case StrategyKeyword:
		w.Keyword = v
	case StrategyGraph:
		w.Graph = v
	}
}

// Normalize clamps each weight to be non-negative and rescales the blend to
// sum 1. A degenerate all-zero blend resets to the defaults.
func (w *StrategyWeights) Normalize() {
	if w.Vector < 0 {
		w.Vector = 0
	}
	if w.Keyword < 0 {
		w.Keyword = 0
	}
	if w.Graph < 0 {
		w.Graph = 0
	}

	sum := w.Vector + w.Keyword + w.Graph
	if sum <= 0 {
		def := DefaultStrategyWeights(w.Scope, w.QueryType)
		w.Vector, w.Keyword, w.Graph = def.Vector, def.Keyword, def.Graph
		return
	}

	w.Vector /= sum
	w.Keyword /= sum
	w.Graph /= sum
}

// EvolutionState holds the per-scope counters driving the scheduler's
// cadence decisions. This and StrategyWeights are the only durable
// cross-run state owned by the engine.
type EvolutionState struct {
	Scope             Scope      `json:"scope"`
	SessionCount      int        `json:"session_count"`
	LastConsolidation *time.Time `json:"last_consolidation,omitempty"`
	LastReflection    *time.Time `json:"last_reflection,omitempty"`
	LastAdaptation    *time.Time `json:"last_adaptation,omitempty"`
}
