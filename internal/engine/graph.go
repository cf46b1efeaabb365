package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// GraphEvolver keeps the derived knowledge graph consistent: it deduplicates
// entities on create, strengthens relationships as evidence arrives,
// surfaces contradictions for external review, and prunes weak elements.
type GraphEvolver struct {
	store  storage.Store
	logger *zap.Logger
}

// NewGraphEvolver creates a graph evolver.
func NewGraphEvolver(store storage.Store, logger *zap.Logger) *GraphEvolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphEvolver{store: store, logger: logger}
}

// UpsertEntity creates an entity with dedup-on-create semantics: if a
// same-scope, same-type entity sits above the dedup similarity threshold,
// the new entity folds into it (mention count up, confidence bumped, last
// seen stamped) and the existing record is returned; otherwise the entity is
// stored as-is. Running twice with the same input never produces two
// entities above the threshold in a scope.
func (g *GraphEvolver) UpsertEntity(ctx context.Context, entity *types.Entity, now time.Time) (*types.Entity, error) {
	if len(entity.Embedding) > 0 {
		matches, err := g.store.FindSimilarEntities(ctx, entity.Embedding, entityDedupThreshold, entity.Scope, entity.Type)
		if err != nil {
			return nil, fmt.Errorf("upsert entity: %w", err)
		}

		for _, match := range matches {
			if match.Record.ID == entity.ID {
				continue
			}
			existing := match.Record
			existing.MentionCount++
			existing.Confidence = clamp01(existing.Confidence + entityFoldConfidenceInc)
			existing.LastSeen = now
			existing.UpdatedAt = now
			if err := g.store.StoreEntity(ctx, existing); err != nil {
				return nil, fmt.Errorf("upsert entity: %w", err)
			}
			return existing, nil
		}
	}

	if entity.ID == "" {
		entity.ID = newEntityID()
	}
	if entity.MentionCount == 0 {
		entity.MentionCount = 1
	}
	if entity.FirstSeen.IsZero() {
		entity.FirstSeen = now
	}
	entity.LastSeen = now
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	if err := g.store.StoreEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("upsert entity: %w", err)
	}
	return entity, nil
}

// AttachEvidence records new supporting evidence for an edge between two
// entities. An existing active edge of the same type is strengthened
// (weight +0.1, confidence +0.05, both capped at 1); otherwise a new edge is
// created with the given initial weight and confidence.
func (g *GraphEvolver) AttachEvidence(ctx context.Context, fromID, toID, relType, memoryID string, scope types.Scope, now time.Time) (*types.Relationship, error) {
	edges, err := g.store.GetRelationships(ctx, fromID, true)
	if err != nil {
		return nil, fmt.Errorf("attach evidence: %w", err)
	}

	for _, edge := range edges {
		if edge.ToID != toID || edge.Type != relType {
			continue
		}
		edge.Weight = clamp01(edge.Weight + edgeWeightInc)
		edge.Confidence = clamp01(edge.Confidence + edgeConfidenceInc)
		if memoryID != "" && !edge.HasEvidence(memoryID) {
			edge.Evidence = append(edge.Evidence, memoryID)
		}
		edge.UpdatedAt = now
		if err := g.store.UpdateRelationship(ctx, edge); err != nil {
			return nil, fmt.Errorf("attach evidence: %w", err)
		}
		return edge, nil
	}

	edge := &types.Relationship{
		ID:         newRelationshipID(),
		FromID:     fromID,
		ToID:       toID,
		Type:       relType,
		Scope:      scope,
		Weight:     0.5,
		Confidence: 0.5,
		ValidFrom:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if memoryID != "" {
		edge.Evidence = []string{memoryID}
	}
	if err := g.store.CreateRelationship(ctx, edge); err != nil {
		return nil, fmt.Errorf("attach evidence: %w", err)
	}
	return edge, nil
}

// DetectContradictions examines an entity's currently-valid outgoing edges
// and enqueues a contradiction item for every pair of semantically opposed
// relation types pointing at the same target. The engine never resolves
// contradictions itself; it only surfaces them.
func (g *GraphEvolver) DetectContradictions(ctx context.Context, entityID string, now time.Time, report *RunReport) error {
	edges, err := g.store.GetRelationships(ctx, entityID, true)
	if err != nil {
		return fmt.Errorf("detect contradictions: %w", err)
	}

	byTarget := make(map[string][]*types.Relationship)
	for _, edge := range edges {
		byTarget[edge.ToID] = append(byTarget[edge.ToID], edge)
	}

	for targetID, targetEdges := range byTarget {
		for i := 0; i < len(targetEdges); i++ {
			for j := i + 1; j < len(targetEdges); j++ {
				a, b := targetEdges[i], targetEdges[j]
				if !types.AreOpposingRelations(a.Type, b.Type) {
					continue
				}

				item := &types.ContradictionItem{
					ID:         fmt.Sprintf("ctr:%s:%s:%s:%s", entityID, targetID, a.Type, b.Type),
					EntityID:   entityID,
					TargetID:   targetID,
					EdgeIDs:    []string{a.ID, b.ID},
					Types:      []string{a.Type, b.Type},
					Scope:      a.Scope,
					DetectedAt: now,
				}
				if err := g.store.EnqueueContradiction(ctx, item); err != nil {
					return fmt.Errorf("detect contradictions: %w", err)
				}
				report.Contradictions++
				g.logger.Info("contradiction surfaced",
					zap.String("entity_id", entityID),
					zap.String("target_id", targetID),
					zap.Strings("types", item.Types))
			}
		}
	}
	return nil
}

// Prune removes weak graph elements for a scope:
//
//   - entities with confidence < 0.3 and fewer than 2 mentions, unseen for
//     30+ days, are deleted; their edges cascade first so no orphan edge
//     remains;
//   - edges with confidence < 0.2 older than 30 days that still connect
//     live entities are soft-invalidated, not deleted.
func (g *GraphEvolver) Prune(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) error {
	entities, err := g.store.ListEntities(ctx, scope, "")
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}

	staleCutoff := now.AddDate(0, 0, -graphStalenessDays)
	pruned := make(map[string]bool)

	for _, entity := range entities {
		if entity.Confidence >= entityPruneConfidence {
			continue
		}
		if entity.MentionCount >= entityPruneMinMentions {
			continue
		}
		if entity.LastSeen.After(staleCutoff) {
			continue
		}

		// Edges first, then the entity: no orphan edges may remain.
		removed, err := g.store.DeleteRelationshipsFor(ctx, entity.ID)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("prune edges of %s: %v", entity.ID, err))
			continue
		}
		if err := g.store.DeleteEntity(ctx, entity.ID); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("prune entity %s: %v", entity.ID, err))
			continue
		}
		pruned[entity.ID] = true
		report.EntitiesPruned++
		report.EdgesRemoved += removed
	}

	// Soft-invalidate weak stale edges still attached to live entities.
	for _, entity := range entities {
		if pruned[entity.ID] {
			continue
		}
		edges, err := g.store.GetRelationships(ctx, entity.ID, true)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("prune edges from %s: %v", entity.ID, err))
			continue
		}
		for _, edge := range edges {
			if pruned[edge.ToID] {
				continue
			}
			if edge.Confidence >= edgeInvalidateConfidence {
				continue
			}
			if edge.CreatedAt.After(staleCutoff) {
				continue
			}
			invalidAt := now
			edge.InvalidAt = &invalidAt
			edge.UpdatedAt = now
			if err := g.store.UpdateRelationship(ctx, edge); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("invalidate edge %s: %v", edge.ID, err))
				continue
			}
			report.EdgesInvalidated++
		}
	}
	return nil
}

// IngestExtraction folds an extraction result (from the external text
// service) into the graph for a scope: entities are upserted with dedup, and
// relationships between resolved entities are strengthened or created with
// the source memory as evidence.
func (g *GraphEvolver) IngestExtraction(ctx context.Context, scope types.Scope, memoryID string, entities []types.Entity, relationships []ExtractedEdge, now time.Time) error {
	resolved := make(map[string]string) // extraction name -> entity ID

	for i := range entities {
		entity := entities[i]
		entity.Scope = scope
		stored, err := g.UpsertEntity(ctx, &entity, now)
		if err != nil {
			return err
		}
		resolved[entity.Name] = stored.ID
	}

	for _, rel := range relationships {
		fromID, okFrom := resolved[rel.From]
		toID, okTo := resolved[rel.To]
		if !okFrom || !okTo {
			g.logger.Debug("dropping edge with unresolved endpoint",
				zap.String("from", rel.From), zap.String("to", rel.To))
			continue
		}
		if !types.IsValidRelationshipType(rel.Type) {
			g.logger.Debug("dropping edge with unknown type", zap.String("type", rel.Type))
			continue
		}
		if _, err := g.AttachEvidence(ctx, fromID, toID, rel.Type, memoryID, scope, now); err != nil {
			return err
		}
	}
	return nil
}

// ExtractedEdge names a relationship between two extraction-level entity
// names, before entity resolution.
type ExtractedEdge struct {
	From string
	To   string
	Type string
}
