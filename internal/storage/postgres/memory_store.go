package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

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
		return fmt.Errorf("postgres: failed to marshal tags: %w", err)
	}
	metadataJSON, err := marshalJSON(memory.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal metadata: %w", err)
	}
	historyJSON, err := marshalJSON(memory.StatusHistory)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal status history: %w", err)
	}
	sourceIDsJSON, err := marshalJSON(memory.SourceIDs)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal source ids: %w", err)
	}
	sourceSessionsJSON, err := marshalJSON(memory.SourceSessions)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal source sessions: %w", err)
	}

	var embedding []byte
	if len(memory.Embedding) > 0 {
		embedding = storage.SerializeVector(memory.Embedding)
	}

	query := `
		INSERT INTO memories (` + memoryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
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
		return fmt.Errorf("postgres: failed to store memory: %w", err)
	}

	if s.pgvectorAvailable {
		if err := s.syncMemoryVector(ctx, memory.ID, memory.Embedding); err != nil {
			return err
		}
	}
	return nil
}

// syncMemoryVector mirrors the BYTEA embedding into the pgvector column.
// A forgotten memory (no embedding) clears the vector so it drops out of
// similarity search.
func (s *Store) syncMemoryVector(ctx context.Context, id string, embedding []float32) error {
	var err error
	if len(embedding) == 0 {
		_, err = s.db.ExecContext(ctx, `UPDATE memories SET embedding_vec = NULL WHERE id = $1`, id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE memories SET embedding_vec = $1 WHERE id = $2`,
			pgvector.NewVector(embedding), id)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to sync embedding vector: %w", err)
	}
	return nil
}

// GetMemory retrieves a memory by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = $1`, id)
	memory, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get memory: %w", err)
	}
	return memory, nil
}

// DeleteMemory hard-deletes a memory by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to delete memory: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListMemories retrieves memories matching the filter, paginated.
func (s *Store) ListMemories(ctx context.Context, filter storage.MemoryFilter) (*storage.PaginatedResult[types.Memory], error) {
	filter.Normalize()

	var list argList
	where := memoryWhere(filter, &list)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`+where, list.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("postgres: failed to count memories: %w", err)
	}

	order := fmt.Sprintf(" ORDER BY %s %s, id %s", filter.SortBy, strings.ToUpper(filter.SortOrder), strings.ToUpper(filter.SortOrder))
	query := `SELECT ` + memoryColumns + ` FROM memories` + where + order +
		` LIMIT ` + list.add(filter.Limit) + ` OFFSET ` + list.add(filter.Offset())

	rows, err := s.db.QueryContext(ctx, query, list.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list memories: %w", err)
	}
	defer rows.Close()

	var items []types.Memory
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		items = append(items, *memory)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to list memories: %w", err)
	}

	return &storage.PaginatedResult[types.Memory]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.Limit,
		HasMore:  filter.Offset()+len(items) < total,
	}, nil
}

// FindSimilarMemories returns memories above the similarity threshold,
// ranked most similar first. With pgvector the ranking happens server-side
// via the cosine distance operator; otherwise candidates are scanned and
// similarity is computed in Go.
func (s *Store) FindSimilarMemories(ctx context.Context, vector []float32, threshold float64, filter storage.MemoryFilter) ([]storage.SimilarityMatch[types.Memory], error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", storage.ErrInvalidInput)
	}

	if s.pgvectorAvailable {
		return s.findSimilarPgvector(ctx, vector, threshold, filter)
	}
	return s.findSimilarScan(ctx, vector, threshold, filter)
}

func (s *Store) findSimilarPgvector(ctx context.Context, vector []float32, threshold float64, filter storage.MemoryFilter) ([]storage.SimilarityMatch[types.Memory], error) {
	var list argList
	where := memoryWhere(filter, &list)
	if where == "" {
		where = " WHERE embedding_vec IS NOT NULL"
	} else {
		where += " AND embedding_vec IS NOT NULL"
	}

	vec := list.add(pgvector.NewVector(vector))
	where += fmt.Sprintf(" AND 1 - (embedding_vec <=> %s::vector) >= %s", vec, list.add(threshold))

	query := `SELECT ` + memoryColumns + fmt.Sprintf(", 1 - (embedding_vec <=> %s::vector) AS similarity", vec) +
		` FROM memories` + where +
		fmt.Sprintf(" ORDER BY embedding_vec <=> %s::vector", vec)

	rows, err := s.db.QueryContext(ctx, query, list.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query similar memories: %w", err)
	}
	defer rows.Close()

	var matches []storage.SimilarityMatch[types.Memory]
	for rows.Next() {
		memory, similarity, err := scanMemoryWithSimilarity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		matches = append(matches, storage.SimilarityMatch[types.Memory]{Record: memory, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to query similar memories: %w", err)
	}
	return matches, nil
}

func (s *Store) findSimilarScan(ctx context.Context, vector []float32, threshold float64, filter storage.MemoryFilter) ([]storage.SimilarityMatch[types.Memory], error) {
	var list argList
	where := memoryWhere(filter, &list)
	if where == "" {
		where = " WHERE embedding IS NOT NULL"
	} else {
		where += " AND embedding IS NOT NULL"
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories`+where, list.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query similar memories: %w", err)
	}
	defer rows.Close()

	var matches []storage.SimilarityMatch[types.Memory]
	for rows.Next() {
		memory, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
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
		return nil, fmt.Errorf("postgres: failed to query similar memories: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}

// IncrementAccess atomically increments access_count and sets
// last_accessed_at.
func (s *Store) IncrementAccess(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = $1 WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to increment access: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to increment access: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountMemories returns the number of memories matching the filter.
func (s *Store) CountMemories(ctx context.Context, filter storage.MemoryFilter) (int, error) {
	filter.Normalize()

	var list argList
	where := memoryWhere(filter, &list)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`+where, list.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: failed to count memories: %w", err)
	}
	return total, nil
}

// memoryWhere builds the WHERE clause for a MemoryFilter. Every predicate
// is pushed into SQL so pagination stays consistent.
func memoryWhere(filter storage.MemoryFilter, list *argList) string {
	var conds []string

	if filter.Scope != "" {
		conds = append(conds, "scope = "+list.add(string(filter.Scope)))
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = "+list.add(filter.SessionID))
	}
	if len(filter.MemoryTypes) > 0 {
		placeholders := make([]string, len(filter.MemoryTypes))
		for i, t := range filter.MemoryTypes {
			placeholders[i] = list.add(string(t))
		}
		conds = append(conds, "memory_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = list.add(string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Tag != "" {
		// The jsonb ? operator collides with lib/pq placeholders, so
		// containment is expressed via jsonb_build_array.
		conds = append(conds, "tags @> jsonb_build_array("+list.add(filter.Tag)+"::text)")
	}
	if len(filter.ExcludeIDs) > 0 {
		placeholders := make([]string, len(filter.ExcludeIDs))
		for i, id := range filter.ExcludeIDs {
			placeholders[i] = list.add(id)
		}
		conds = append(conds, "id NOT IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.AccessedBefore.IsZero() {
		conds = append(conds, "COALESCE(last_accessed_at, created_at) < "+list.add(filter.AccessedBefore))
	}
	if filter.MinImportance > 0 {
		conds = append(conds, "importance >= "+list.add(filter.MinImportance))
	}
	if filter.MinAccessCount > 0 {
		conds = append(conds, "access_count >= "+list.add(filter.MinAccessCount))
	}

	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// scanMemory reads one memory row.
func scanMemory(row rowScanner) (*types.Memory, error) {
	var memory types.Memory
	var fields memoryScanFields

	if err := row.Scan(fields.dest(&memory)...); err != nil {
		return nil, err
	}
	if err := fields.apply(&memory); err != nil {
		return nil, err
	}
	return &memory, nil
}

// scanMemoryWithSimilarity reads one memory row plus a trailing similarity
// column.
func scanMemoryWithSimilarity(row rowScanner) (*types.Memory, float64, error) {
	var memory types.Memory
	var fields memoryScanFields
	var similarity float64

	dest := append(fields.dest(&memory), &similarity)
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}
	if err := fields.apply(&memory); err != nil {
		return nil, 0, err
	}
	return &memory, similarity, nil
}

// memoryScanFields holds the intermediate column values that need
// conversion after Scan.
type memoryScanFields struct {
	memoryType, scope, status                                      string
	sessionID, promotedFrom                                        sql.NullString
	tagsJSON, metadataJSON, historyJSON, sourceIDs, sourceSessions sql.NullString
	embedding                                                      []byte
	lastAccessedAt                                                 sql.NullTime
}

func (f *memoryScanFields) dest(memory *types.Memory) []interface{} {
	return []interface{}{
		&memory.ID,
		&memory.Content,
		&f.memoryType,
		&f.scope,
		&f.sessionID,
		&f.tagsJSON,
		&f.metadataJSON,
		&f.embedding,
		&memory.Importance,
		&memory.RelevanceScore,
		&memory.Confidence,
		&memory.OutcomeImpact,
		&memory.UserFeedback,
		&memory.AccessCount,
		&f.lastAccessedAt,
		&f.status,
		&f.historyJSON,
		&f.sourceIDs,
		&f.promotedFrom,
		&f.sourceSessions,
		&memory.CreatedAt,
		&memory.UpdatedAt,
	}
}

func (f *memoryScanFields) apply(memory *types.Memory) error {
	memory.MemoryType = types.MemoryType(f.memoryType)
	memory.Scope = types.Scope(f.scope)
	memory.Status = types.Status(f.status)
	memory.SessionID = f.sessionID.String
	memory.PromotedFrom = f.promotedFrom.String
	memory.LastAccessedAt = timePtr(f.lastAccessedAt)

	if len(f.embedding) > 0 {
		vec, err := storage.DeserializeVector(f.embedding)
		if err != nil {
			return fmt.Errorf("failed to deserialize embedding: %w", err)
		}
		memory.Embedding = vec
	}

	if err := unmarshalJSON(f.tagsJSON, &memory.Tags); err != nil {
		return fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if err := unmarshalJSON(f.metadataJSON, &memory.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := unmarshalJSON(f.historyJSON, &memory.StatusHistory); err != nil {
		return fmt.Errorf("failed to unmarshal status history: %w", err)
	}
	if err := unmarshalJSON(f.sourceIDs, &memory.SourceIDs); err != nil {
		return fmt.Errorf("failed to unmarshal source ids: %w", err)
	}
	if err := unmarshalJSON(f.sourceSessions, &memory.SourceSessions); err != nil {
		return fmt.Errorf("failed to unmarshal source sessions: %w", err)
	}
	return nil
}
