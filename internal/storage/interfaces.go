// Package storage provides composable storage interfaces for the memory
// lifecycle engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The engine consumes
// these interfaces only; it never assumes a concrete backend. All operations
// are atomic at single-record granularity; multi-record consistency is the
// engine's responsibility via its per-scope serialization rules.
package storage

import (
	"context"
	"time"

	"github.com/baladithyab/engram-sub001/pkg/types"
)

// MemoryStore provides CRUD, filtered listing, and similarity search for
// memories.
type MemoryStore interface {
	// StoreMemory creates or updates a memory (upsert semantics).
	StoreMemory(ctx context.Context, memory *types.Memory) error

	// GetMemory retrieves a memory by ID.
	// Returns ErrNotFound if the memory doesn't exist.
	GetMemory(ctx context.Context, id string) (*types.Memory, error)

	// DeleteMemory hard-deletes a memory by ID. The engine never calls this
	// for lifecycle reasons (forgetting clears fields instead); it exists
	// for external administrative use.
	DeleteMemory(ctx context.Context, id string) error

	// ListMemories retrieves memories matching the filter, paginated.
	ListMemories(ctx context.Context, filter MemoryFilter) (*PaginatedResult[types.Memory], error)

	// FindSimilarMemories returns memories whose embedding cosine similarity
	// with vector meets or exceeds threshold, ranked most similar first.
	// Forgotten memories (no embedding) never match.
	FindSimilarMemories(ctx context.Context, vector []float32, threshold float64, filter MemoryFilter) ([]SimilarityMatch[types.Memory], error)

	// IncrementAccess atomically increments access_count and sets
	// last_accessed_at for the given memory ID.
	IncrementAccess(ctx context.Context, id string, at time.Time) error

	// CountMemories returns the number of memories matching the filter.
	CountMemories(ctx context.Context, filter MemoryFilter) (int, error)
}

// GraphStore manages entities and the relationship edges between them.
type GraphStore interface {
	// StoreEntity creates or updates an entity (upsert semantics).
	StoreEntity(ctx context.Context, entity *types.Entity) error

	// GetEntity retrieves an entity by ID.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// DeleteEntity hard-deletes an entity. Callers must remove its edges
	// first; implementations may reject deletion while edges remain.
	DeleteEntity(ctx context.Context, id string) error

	// ListEntities returns entities in a scope, optionally filtered by type.
	ListEntities(ctx context.Context, scope types.Scope, entityType string) ([]*types.Entity, error)

	// FindSimilarEntities returns same-scope entities whose embedding cosine
	// similarity with vector meets or exceeds threshold, ranked most similar
	// first. entityType narrows the search when non-empty.
	FindSimilarEntities(ctx context.Context, vector []float32, threshold float64, scope types.Scope, entityType string) ([]SimilarityMatch[types.Entity], error)

	// CreateRelationship stores a new edge.
	CreateRelationship(ctx context.Context, rel *types.Relationship) error

	// UpdateRelationship persists changes to an existing edge.
	// Returns ErrNotFound if the edge doesn't exist.
	UpdateRelationship(ctx context.Context, rel *types.Relationship) error

	// GetRelationships returns edges originating at fromID. When activeOnly
	// is true, soft-invalidated edges are excluded.
	GetRelationships(ctx context.Context, fromID string, activeOnly bool) ([]*types.Relationship, error)

	// DeleteRelationshipsFor removes every edge touching the given entity,
	// in either direction. Returns the number of edges removed.
	DeleteRelationshipsFor(ctx context.Context, entityID string) (int, error)

	// Traverse follows active edges of the given types from an entity up to
	// depth hops and returns the reached entities.
	Traverse(ctx context.Context, entityID string, edgeTypes []string, depth int) ([]*types.Entity, error)
}

// QueueStore manages the consolidation queue and the contradiction queue.
// Items are removed only when explicitly completed; failures leave them
// queued for the next pass.
type QueueStore interface {
	// EnqueueConsolidation adds a pending consolidation request.
	EnqueueConsolidation(ctx context.Context, item *types.ConsolidationQueueItem) error

	// PendingConsolidations returns queued items for a scope, oldest first.
	PendingConsolidations(ctx context.Context, scope types.Scope) ([]*types.ConsolidationQueueItem, error)

	// CompleteConsolidation removes a processed item from the queue.
	CompleteConsolidation(ctx context.Context, id string) error

	// DeferConsolidation increments the item's attempt counter and leaves it
	// queued.
	DeferConsolidation(ctx context.Context, id string) error

	// EnqueueContradiction surfaces a detected contradiction for external
	// review. Re-detection of an already queued pair must not duplicate it.
	EnqueueContradiction(ctx context.Context, item *types.ContradictionItem) error

	// PendingContradictions returns unresolved contradictions for a scope.
	PendingContradictions(ctx context.Context, scope types.Scope) ([]*types.ContradictionItem, error)
}

// RetrievalLogStore appends and reads the immutable retrieval log.
type RetrievalLogStore interface {
	// AppendRetrievalLog writes one retrieval record. Records are immutable
	// once written.
	AppendRetrievalLog(ctx context.Context, log *types.RetrievalLog) error

	// RetrievalWindow returns logs for a scope with timestamps at or after
	// since, oldest first.
	RetrievalWindow(ctx context.Context, scope types.Scope, since time.Time) ([]*types.RetrievalLog, error)
}

// StrategyStore persists per (scope, query type) strategy weights.
type StrategyStore interface {
	// GetWeights returns the weights row for a key.
	// Returns ErrNotFound when the key has never been adapted.
	GetWeights(ctx context.Context, scope types.Scope, queryType string) (*types.StrategyWeights, error)

	// PutWeights upserts the weights row for its key. A row is never
	// created twice for the same (scope, query type).
	PutWeights(ctx context.Context, weights *types.StrategyWeights) error
}

// ReportStore persists maintenance run reports (the reflection log).
type ReportStore interface {
	// AppendRunReport writes one run report.
	AppendRunReport(ctx context.Context, report *types.RunReport) error

	// RecentRunReports returns the most recent run reports for a scope,
	// newest first, up to limit.
	RecentRunReports(ctx context.Context, scope types.Scope, limit int) ([]*types.RunReport, error)
}

// StateStore persists the per-scope evolution counters.
type StateStore interface {
	// GetState returns the evolution state for a scope.
	// Returns ErrNotFound when the scope has never ticked.
	GetState(ctx context.Context, scope types.Scope) (*types.EvolutionState, error)

	// PutState upserts the evolution state for its scope.
	PutState(ctx context.Context, state *types.EvolutionState) error
}

// Store composes the full storage surface consumed by the engine.
type Store interface {
	MemoryStore
	GraphStore
	QueueStore
	RetrievalLogStore
	StrategyStore
	ReportStore
	StateStore

	// Close releases any resources held by the store.
	Close() error
}
