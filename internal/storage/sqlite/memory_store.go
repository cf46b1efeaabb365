package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

const memoryColumns = `
	id, content, memory_type, scope, session_id, tags, metadata, embedding,
	importance, relevance_score, confidence, outcome_impact, user_feedback,
	access_count, last_accessed_at, status, status_history,
	source_ids, promoted_from, source_sessions,
	created_at, updated_at`

// StoreMemory creates or updates a memory (upsert semantics).
func (s *Store) StoreMemory(ctx context.Context, memory *types.Memory) error {
	if memory == nil {
		return storage.ErrInvalidInput
	}
	if memory.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if !types.IsValidMemoryType(memory.MemoryType) {
		return fmt.Errorf("%w: unknown memory type %q", storage.ErrInvalidInput, memory.MemoryType)
	}
	if !types.IsValidScope(memory.Scope) {
		return fmt.Errorf("%w: unknown scope %q", storage.ErrInvalidInput, memory.Scope)
	}

	if memory.CreatedAt.IsZero() {
		memory.CreatedAt = time.Now()
	}
	if memory.UpdatedAt.IsZero() {
		memory.UpdatedAt = memory.CreatedAt
	}
	if memory.Status == "" {
		memory.Status = types.StatusCreated
	}

	tagsJSON, err := marshalJSON(memory.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadataJSON, err := marshalJSON(memory.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	historyJSON, err := marshalJSON(memory.StatusHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal status history: %w", err)
	}
	sourceIDsJSON, err := marshalJSON(memory.SourceIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source ids: %w", err)
	}
	sourceSessionsJSON, err := marshalJSON(memory.SourceSessions)
	if err != nil {
		return fmt.Errorf("failed to marshal source sessions: %w", err)
	}

	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			memory_type = excluded.memory_type,
			scope = excluded.scope,
			session_id = excluded.session_id,
			tags = excluded.tags,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			importance = excluded.importance,
			relevance_score = excluded.relevance_score,
			confidence = excluded.confidence,
			outcome_impact = excluded.outcome_impact,
			user_feedback = excluded.user_feedback,
			access_count = excluded.access_count,
			last_accessed_at = excluded.last_accessed_at,
			status = excluded.status,
			status_history = excluded.status_history,
			source_ids = excluded.source_ids,
			promoted_from = excluded.promoted_from,
			source_sessions = excluded.source_sessions,
			updated_at = excluded.updated_at
	`

	var embedding []byte
	if len(memory.Embedding) > 0 {
		embedding = storage.SerializeVector(memory.Embedding)
	}

	_, err = s.db.ExecContext(ctx, query,
		memory.ID,
		memory.Content,
		string(memory.MemoryType),
		string(memory.Scope),
		nullableString(memory.SessionID),
		nullableBytes(tagsJSON),
		nullableBytes(metadataJSON),
		embedding,
		memory.Importance,
		memory.RelevanceScore,
		memory.Confidence,
		memory.OutcomeImpact,
		memory.UserFeedback,
		memory.AccessCount,
		nullableTime(memory.LastAccessedAt),
		string(memory.Status),
		nullableBytes(historyJSON),
		nullableBytes(sourceIDsJSON),
		nullableString(memory.PromotedFrom),
		nullableBytes(sourceSessionsJSON),
		memory.CreatedAt,
		memory.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	memory, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return memory, nil
}

// DeleteMemory hard-deletes a memory by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMemories retrieves memories matching the filter, paginated.
func (s *Store) ListMemories(ctx context.Context, filter storage.MemoryFilter) (*storage.PaginatedResult[types.Memory], error) {
	filter.Normalize()
	where, args := memoryWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM memories` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	order := fmt.Sprintf(" ORDER BY %s %s, id %s", filter.SortBy, strings.ToUpper(filter.SortOrder), strings.ToUpper(filter.SortOrder))
	query := `SELECT ` + memoryColumns + ` FROM memories` + where + order + ` LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var items []types.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		items = append(items, *memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	return &storage.PaginatedResult[types.Memory]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.Limit,
		HasMore:  filter.Offset()+len(items) < total,
	}, nil
}

// FindSimilarMemories returns memories whose embedding cosine similarity
// with vector meets or exceeds threshold, ranked most similar first.
// Candidate rows are narrowed by the filter in SQL; similarity is computed
// in Go over the deserialized blobs.
func (s *Store) FindSimilarMemories(ctx context.Context, vector []float32, threshold float64, filter storage.MemoryFilter) ([]storage.SimilarityMatch[types.Memory], error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", storage.ErrInvalidInput)
	}

	where, args := memoryWhere(filter)
	if where == "" {
		where = " WHERE embedding IS NOT NULL"
	} else {
		where += " AND embedding IS NOT NULL"
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar memories: %w", err)
	}
	defer rows.Close()

	var matches []storage.SimilarityMatch[types.Memory]
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		if len(memory.Embedding) == 0 {
			continue
		}
		similarity := storage.CosineSimilarity(vector, memory.Embedding)
		if similarity >= threshold {
			matches = append(matches, storage.SimilarityMatch[types.Memory]{Record: memory, Similarity: similarity})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query similar memories: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}

// IncrementAccess atomically increments access_count and sets
// last_accessed_at.
func (s *Store) IncrementAccess(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		at, id)
	if err != nil {
		return fmt.Errorf("failed to increment access: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to increment access: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountMemories returns the number of memories matching the filter.
func (s *Store) CountMemories(ctx context.Context, filter storage.MemoryFilter) (int, error) {
	filter.Normalize()
	where, args := memoryWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count memories: %w", err)
	}
	return total, nil
}

// memoryWhere builds the WHERE clause for a MemoryFilter. Every predicate
// is pushed into SQL so pagination stays consistent.
func memoryWhere(filter storage.MemoryFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, string(filter.Scope))
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(filter.MemoryTypes) > 0 {
		placeholders := make([]string, len(filter.MemoryTypes))
		for i, t := range filter.MemoryTypes {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "memory_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Tag != "" {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(memories.tags) WHERE json_each.value = ?)")
		args = append(args, filter.Tag)
	}
	if len(filter.ExcludeIDs) > 0 {
		placeholders := make([]string, len(filter.ExcludeIDs))
		for i, id := range filter.ExcludeIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		conds = append(conds, "id NOT IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.AccessedBefore.IsZero() {
		conds = append(conds, "COALESCE(last_accessed_at, created_at) < ?")
		args = append(args, filter.AccessedBefore)
	}
	if filter.MinImportance > 0 {
		conds = append(conds, "importance >= ?")
		args = append(args, filter.MinImportance)
	}
	if filter.MinAccessCount > 0 {
		conds = append(conds, "access_count >= ?")
		args = append(args, filter.MinAccessCount)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// rowScanner abstracts sql.Row and sql.Rows for scanMemory.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMemory reads one memory row.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var memoryType, scope, status string
	var sessionID, promotedFrom sql.NullString
	var tagsJSON, metadataJSON, historyJSON, sourceIDsJSON, sourceSessionsJSON sql.NullString
	var embedding []byte
	var lastAccessedAt sql.NullTime

	err := row.Scan(
		&memory.ID,
		&memory.Content,
		&memoryType,
		&scope,
		&sessionID,
		&tagsJSON,
		&metadataJSON,
		&embedding,
		&memory.Importance,
		&memory.RelevanceScore,
		&memory.Confidence,
		&memory.OutcomeImpact,
		&memory.UserFeedback,
		&memory.AccessCount,
		&lastAccessedAt,
		&status,
		&historyJSON,
		&sourceIDsJSON,
		&promotedFrom,
		&sourceSessionsJSON,
		&memory.CreatedAt,
		&memory.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	memory.MemoryType = types.MemoryType(memoryType)
	memory.Scope = types.Scope(scope)
	memory.Status = types.Status(status)
	memory.SessionID = sessionID.String
	memory.PromotedFrom = promotedFrom.String
	memory.LastAccessedAt = timePtr(lastAccessedAt)

	if len(embedding) > 0 {
		vec, err := storage.DeserializeVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
		}
		memory.Embedding = vec
	}

	if err := unmarshalJSON(tagsJSON, &memory.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := unmarshalJSON(metadataJSON, &memory.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := unmarshalJSON(historyJSON, &memory.StatusHistory); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status history: %w", err)
	}
	if err := unmarshalJSON(sourceIDsJSON, &memory.SourceIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source ids: %w", err)
	}
	if err := unmarshalJSON(sourceSessionsJSON, &memory.SourceSessions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source sessions: %w", err)
	}

	return &memory, nil
}
