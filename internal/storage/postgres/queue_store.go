package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// EnqueueConsolidation adds a pending consolidation request.
func (s *Store) EnqueueConsolidation(ctx context.Context, item *types.ConsolidationQueueItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: queue item ID is required", storage.ErrInvalidInput)
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	memoryIDsJSON, err := marshalJSON(item.MemoryIDs)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal memory ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consolidation_queue (id, reason, memory_ids, topic_tag, scope, enqueued_at, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO NOTHING`,
		item.ID,
		string(item.Reason),
		nullableBytes(memoryIDsJSON),
		nullableString(item.TopicTag),
		string(item.Scope),
		item.EnqueuedAt,
		item.Attempts,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to enqueue consolidation: %w", err)
	}
	return nil
}

// PendingConsolidations returns queued items for a scope, oldest first.
func (s *Store) PendingConsolidations(ctx context.Context, scope types.Scope) ([]*types.ConsolidationQueueItem, error) {
	query := `SELECT id, reason, memory_ids, topic_tag, scope, enqueued_at, attempts FROM consolidation_queue`
	var args []interface{}
	if scope != "" {
		query += " WHERE scope = $1"
		args = append(args, string(scope))
	}
	query += " ORDER BY enqueued_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list pending consolidations: %w", err)
	}
	defer rows.Close()

	var items []*types.ConsolidationQueueItem
	for rows.Next() {
		var item types.ConsolidationQueueItem
		var reason, itemScope string
		var memoryIDsJSON, topicTag sql.NullString

		if err := rows.Scan(&item.ID, &reason, &memoryIDsJSON, &topicTag, &itemScope, &item.EnqueuedAt, &item.Attempts); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan queue item: %w", err)
		}
		item.Reason = types.ConsolidationReason(reason)
		item.Scope = types.Scope(itemScope)
		item.TopicTag = topicTag.String
		if err := unmarshalJSON(memoryIDsJSON, &item.MemoryIDs); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal memory ids: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to list pending consolidations: %w", err)
	}
	return items, nil
}

// CompleteConsolidation removes a processed item from the queue.
func (s *Store) CompleteConsolidation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM consolidation_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to complete consolidation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to complete consolidation: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeferConsolidation increments the item's attempt counter and leaves it
// queued.
func (s *Store) DeferConsolidation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE consolidation_queue SET attempts = attempts + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to defer consolidation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to defer consolidation: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// EnqueueContradiction surfaces a detected contradiction. Re-detection of
// an already queued pair is a no-op via the deterministic item ID.
func (s *Store) EnqueueContradiction(ctx context.Context, item *types.ContradictionItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: contradiction ID is required", storage.ErrInvalidInput)
	}
	if item.DetectedAt.IsZero() {
		item.DetectedAt = time.Now()
	}

	edgeIDsJSON, err := marshalJSON(item.EdgeIDs)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal edge ids: %w", err)
	}
	typesJSON, err := marshalJSON(item.Types)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal edge types: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contradictions (id, entity_id, target_id, edge_ids, types, scope, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT(id) DO NOTHING`,
		item.ID,
		item.EntityID,
		item.TargetID,
		nullableBytes(edgeIDsJSON),
		nullableBytes(typesJSON),
		string(item.Scope),
		item.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to enqueue contradiction: %w", err)
	}
	return nil
}

// PendingContradictions returns unresolved contradictions for a scope.
func (s *Store) PendingContradictions(ctx context.Context, scope types.Scope) ([]*types.ContradictionItem, error) {
	query := `SELECT id, entity_id, target_id, edge_ids, types, scope, detected_at FROM contradictions`
	var args []interface{}
	if scope != "" {
		query += " WHERE scope = $1"
		args = append(args, string(scope))
	}
	query += " ORDER BY detected_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list contradictions: %w", err)
	}
	defer rows.Close()

	var items []*types.ContradictionItem
	for rows.Next() {
		var item types.ContradictionItem
		var itemScope string
		var edgeIDsJSON, typesJSON sql.NullString

		if err := rows.Scan(&item.ID, &item.EntityID, &item.TargetID, &edgeIDsJSON, &typesJSON, &itemScope, &item.DetectedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan contradiction: %w", err)
		}
		item.Scope = types.Scope(itemScope)
		if err := unmarshalJSON(edgeIDsJSON, &item.EdgeIDs); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal edge ids: %w", err)
		}
		if err := unmarshalJSON(typesJSON, &item.Types); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal edge types: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to list contradictions: %w", err)
	}
	return items, nil
}
