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

const entityColumns = `
	id, name, type, description, scope, embedding,
	mention_count, confidence, first_seen, last_seen, created_at, updated_at`

const relationshipColumns = `
	id, from_id, to_id, type, scope, weight, confidence,
	valid_from, invalid_at, evidence, created_at, updated_at`

// StoreEntity creates or updates an entity (upsert semantics).
func (s *Store) StoreEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil || entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entity.Name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = time.Now()
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = entity.CreatedAt
	}
	if entity.FirstSeen.IsZero() {
		entity.FirstSeen = entity.CreatedAt
	}
	if entity.LastSeen.IsZero() {
		entity.LastSeen = entity.UpdatedAt
	}

	var embedding []byte
	if len(entity.Embedding) > 0 {
		embedding = storage.SerializeVector(entity.Embedding)
	}

	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			description = excluded.description,
			scope = excluded.scope,
			embedding = excluded.embedding,
			mention_count = excluded.mention_count,
			confidence = excluded.confidence,
			first_seen = excluded.first_seen,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		entity.ID,
		entity.Name,
		entity.Type,
		nullableString(entity.Description),
		string(entity.Scope),
		embedding,
		entity.MentionCount,
		entity.Confidence,
		entity.FirstSeen,
		entity.LastSeen,
		entity.CreatedAt,
		entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store entity: %w", err)
	}
	return nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// DeleteEntity hard-deletes an entity.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListEntities returns entities in a scope, optionally filtered by type.
func (s *Store) ListEntities(ctx context.Context, scope types.Scope, entityType string) ([]*types.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities`
	var conds []string
	var args []interface{}
	if scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, string(scope))
	}
	if entityType != "" {
		conds = append(conds, "type = ?")
		args = append(args, entityType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return entities, nil
}

// FindSimilarEntities returns same-scope entities above the similarity
// threshold, ranked most similar first.
func (s *Store) FindSimilarEntities(ctx context.Context, vector []float32, threshold float64, scope types.Scope, entityType string) ([]storage.SimilarityMatch[types.Entity], error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE scope = ? AND embedding IS NOT NULL`
	args := []interface{}{string(scope)}
	if entityType != "" {
		query += " AND type = ?"
		args = append(args, entityType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar entities: %w", err)
	}
	defer rows.Close()

	var matches []storage.SimilarityMatch[types.Entity]
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if len(entity.Embedding) == 0 {
			continue
		}
		similarity := storage.CosineSimilarity(vector, entity.Embedding)
		if similarity >= threshold {
			matches = append(matches, storage.SimilarityMatch[types.Entity]{Record: entity, Similarity: similarity})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query similar entities: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, nil
}

// CreateRelationship stores a new edge.
func (s *Store) CreateRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil || rel.ID == "" {
		return fmt.Errorf("%w: relationship ID is required", storage.ErrInvalidInput)
	}
	if rel.FromID == "" || rel.ToID == "" {
		return fmt.Errorf("%w: relationship endpoints are required", storage.ErrInvalidInput)
	}

	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	if rel.UpdatedAt.IsZero() {
		rel.UpdatedAt = rel.CreatedAt
	}
	if rel.ValidFrom.IsZero() {
		rel.ValidFrom = rel.CreatedAt
	}

	evidenceJSON, err := marshalJSON(rel.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (`+relationshipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.ID,
		rel.FromID,
		rel.ToID,
		rel.Type,
		string(rel.Scope),
		rel.Weight,
		rel.Confidence,
		rel.ValidFrom,
		nullableTime(rel.InvalidAt),
		nullableBytes(evidenceJSON),
		rel.CreatedAt,
		rel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create relationship: %w", err)
	}
	return nil
}

// UpdateRelationship persists changes to an existing edge.
func (s *Store) UpdateRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil || rel.ID == "" {
		return fmt.Errorf("%w: relationship ID is required", storage.ErrInvalidInput)
	}

	evidenceJSON, err := marshalJSON(rel.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE relationships SET
			from_id = ?, to_id = ?, type = ?, scope = ?,
			weight = ?, confidence = ?, valid_from = ?, invalid_at = ?,
			evidence = ?, updated_at = ?
		WHERE id = ?`,
		rel.FromID,
		rel.ToID,
		rel.Type,
		string(rel.Scope),
		rel.Weight,
		rel.Confidence,
		rel.ValidFrom,
		nullableTime(rel.InvalidAt),
		nullableBytes(evidenceJSON),
		rel.UpdatedAt,
		rel.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update relationship: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetRelationships returns edges originating at fromID.
func (s *Store) GetRelationships(ctx context.Context, fromID string, activeOnly bool) ([]*types.Relationship, error) {
	query := `SELECT ` + relationshipColumns + ` FROM relationships WHERE from_id = ?`
	if activeOnly {
		query += " AND invalid_at IS NULL"
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, fromID)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	defer rows.Close()

	var rels []*types.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	return rels, nil
}

// DeleteRelationshipsFor removes every edge touching the given entity in
// either direction. Returns the number of edges removed.
func (s *Store) DeleteRelationshipsFor(ctx context.Context, entityID string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE from_id = ? OR to_id = ?`, entityID, entityID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete relationships: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete relationships: %w", err)
	}
	return int(affected), nil
}

// Traverse follows active edges of the given types from an entity up to
// depth hops, breadth-first, and returns the reached entities.
func (s *Store) Traverse(ctx context.Context, entityID string, edgeTypes []string, depth int) ([]*types.Entity, error) {
	if depth < 1 {
		return nil, nil
	}

	allowed := make(map[string]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allowed[t] = true
	}

	seen := map[string]bool{entityID: true}
	frontier := []string{entityID}
	var reachedIDs []string

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, from := range frontier {
			edges, err := s.GetRelationships(ctx, from, true)
			if err != nil {
				return nil, err
			}
			for _, edge := range edges {
				if len(edgeTypes) > 0 && !allowed[edge.Type] {
					continue
				}
				if seen[edge.ToID] {
					continue
				}
				seen[edge.ToID] = true
				reachedIDs = append(reachedIDs, edge.ToID)
				next = append(next, edge.ToID)
			}
		}
		frontier = next
	}

	entities := make([]*types.Entity, 0, len(reachedIDs))
	for _, id := range reachedIDs {
		entity, err := s.GetEntity(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var entity types.Entity
	var scope string
	var description sql.NullString
	var embedding []byte

	err := row.Scan(
		&entity.ID,
		&entity.Name,
		&entity.Type,
		&description,
		&scope,
		&embedding,
		&entity.MentionCount,
		&entity.Confidence,
		&entity.FirstSeen,
		&entity.LastSeen,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entity.Scope = types.Scope(scope)
	entity.Description = description.String
	if len(embedding) > 0 {
		vec, err := storage.DeserializeVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize embedding: %w", err)
		}
		entity.Embedding = vec
	}
	return &entity, nil
}

func scanRelationship(row rowScanner) (*types.Relationship, error) {
	var rel types.Relationship
	var scope string
	var invalidAt sql.NullTime
	var evidenceJSON sql.NullString

	err := row.Scan(
		&rel.ID,
		&rel.FromID,
		&rel.ToID,
		&rel.Type,
		&scope,
		&rel.Weight,
		&rel.Confidence,
		&rel.ValidFrom,
		&invalidAt,
		&evidenceJSON,
		&rel.CreatedAt,
		&rel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rel.Scope = types.Scope(scope)
	rel.InvalidAt = timePtr(invalidAt)
	if err := unmarshalJSON(evidenceJSON, &rel.Evidence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	return &rel, nil
}
