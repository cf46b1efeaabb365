package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// ErrForgottenMemory is returned when an operation touches a memory in the
// terminal forgotten status. It is fatal to that operation only; callers
// log and skip rather than aborting the run.
var ErrForgottenMemory = errors.New("memory is forgotten")

// TransitionAction is the outcome of a lifecycle guard evaluation.
type TransitionAction int

const (
	// ActionNone leaves the memory as it is.
	ActionNone TransitionAction = iota

	// ActionActivate moves a created memory to active on first access.
	ActionActivate

	// ActionEnqueueConsolidation enqueues the memory for consolidation; the
	// status change happens only when the queue item is processed.
	ActionEnqueueConsolidation

	// ActionArchive moves a weak, rarely used memory straight to archived.
	ActionArchive

	// ActionForget moves an archived or consolidated memory to forgotten,
	// clearing content and embedding.
	ActionForget
)

// EvaluateTransition applies the lifecycle guards to a memory snapshot.
// Guards are evaluated after a score recompute, never eagerly:
//
//	created -> active when access_count > 0
//	created|active -> archived when strength < 0.1 and access < 2
//	active -> consolidated (via queue) when strength < 0.3 and access >= 2
//	archived|consolidated -> forgotten when strength < 0.01
//
// A created memory that was never accessed archives directly, skipping
// activation.
func EvaluateTransition(mem *types.Memory, now time.Time) TransitionAction {
	switch mem.Status {
	case types.StatusCreated:
		if mem.AccessCount > 0 {
			return ActionActivate
		}
		if MemoryStrength(mem, now) < archiveStrengthThreshold {
			return ActionArchive
		}

	case types.StatusActive:
		strength := MemoryStrength(mem, now)
		if strength < consolidationStrengthThreshold && mem.AccessCount >= consolidationMinAccess {
			return ActionEnqueueConsolidation
		}
		if strength < archiveStrengthThreshold && mem.AccessCount < consolidationMinAccess {
			return ActionArchive
		}

	case types.StatusArchived, types.StatusConsolidated:
		if MemoryStrength(mem, now) < forgetStrengthThreshold {
			return ActionForget
		}
	}

	return ActionNone
}

// Lifecycle applies scoring and lifecycle transitions to stored memories.
// The engine never deletes memories; forgetting clears content and embedding
// in place so graph and history references stay intact.
type Lifecycle struct {
	store  storage.Store
	logger *zap.Logger
}

// NewLifecycle creates a lifecycle manager.
func NewLifecycle(store storage.Store, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{store: store, logger: logger}
}

// RecordAccess strengthens a memory for one logical retrieval and persists
// it, activating created memories as a side effect. Touching a forgotten
// memory returns ErrForgottenMemory.
func (l *Lifecycle) RecordAccess(ctx context.Context, id string, now time.Time) (*types.Memory, error) {
	mem, err := l.store.GetMemory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("record access: %w", err)
	}
	if mem.Status == types.StatusForgotten {
		return nil, fmt.Errorf("record access %s: %w", id, ErrForgottenMemory)
	}

	StrengthenOnAccess(mem, now)

	if mem.Status == types.StatusCreated {
		mem.RecordStatusChange(types.StatusActive, "first_access", now)
	}

	if err := l.store.StoreMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("record access: %w", err)
	}
	return mem, nil
}

// Sweep evaluates lifecycle guards for every non-forgotten memory in a scope
// and applies the resulting transitions. Consolidation transitions only
// enqueue work; the status change happens when the queue item is processed.
// Per-memory failures are isolated and reported, never fatal to the sweep.
func (l *Lifecycle) Sweep(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) error {
	filter := storage.MemoryFilter{
		Scope: scope,
		Statuses: []types.Status{
			types.StatusCreated,
			types.StatusActive,
			types.StatusConsolidated,
			types.StatusArchived,
		},
		Limit: 500,
	}

	// Collect every page before mutating: transitions move rows out of the
	// status filter, which would shift later pages and skip rows.
	var memories []types.Memory
	for page := 1; ; page++ {
		filter.Page = page
		result, err := l.store.ListMemories(ctx, filter)
		if err != nil {
			return fmt.Errorf("lifecycle sweep: %w", err)
		}
		memories = append(memories, result.Items...)
		if !result.HasMore {
			break
		}
	}

	for i := range memories {
		mem := &memories[i]
		if err := l.applyTransition(ctx, mem, now, report); err != nil {
			l.logger.Warn("lifecycle transition failed",
				zap.String("memory_id", mem.ID),
				zap.Error(err))
			report.Failures = append(report.Failures, fmt.Sprintf("lifecycle %s: %v", mem.ID, err))
		}
	}
	return nil
}

// applyTransition recomputes importance, evaluates the guards, and persists
// whatever transition applies.
func (l *Lifecycle) applyTransition(ctx context.Context, mem *types.Memory, now time.Time, report *RunReport) error {
	mem.Importance = Importance(mem, now)

	switch EvaluateTransition(mem, now) {
	case ActionActivate:
		mem.RecordStatusChange(types.StatusActive, "first_access", now)
		report.Activations++
		return l.store.StoreMemory(ctx, mem)

	case ActionEnqueueConsolidation:
		// The per-memory deterministic ID makes repeated sweeps a no-op while
		// an item is still pending; enqueue dedupes on ID.
		item := &types.ConsolidationQueueItem{
			ID:         decayQueueID(mem.ID),
			Reason:     types.ReasonStrengthDecay,
			MemoryIDs:  []string{mem.ID},
			Scope:      mem.Scope,
			EnqueuedAt: now,
		}
		// Status stays active until the queue item is processed.
		return l.store.EnqueueConsolidation(ctx, item)

	case ActionArchive:
		mem.RecordStatusChange(types.StatusArchived, "weak_unused", now)
		report.Archivals++
		return l.store.StoreMemory(ctx, mem)

	case ActionForget:
		Forget(mem, now)
		report.Forgets++
		return l.store.StoreMemory(ctx, mem)
	}

	// No transition; still persist the recomputed importance.
	return l.store.StoreMemory(ctx, mem)
}

// Forget moves a memory to the terminal forgotten status, clearing content
// and embedding to reclaim space. ID, scope, and status history are retained
// for auditability.
func Forget(mem *types.Memory, now time.Time) {
	mem.RecordStatusChange(types.StatusForgotten, "strength_floor", now)
	mem.Content = ""
	mem.Embedding = nil
}
