package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// memStore is an in-memory storage.Store used by the engine tests. It
// copies records on both write and read so the tests catch missing
// persistence calls the same way a real backend would.
type memStore struct {
	mu             sync.Mutex
	memories       map[string]*types.Memory
	entities       map[string]*types.Entity
	relationships  map[string]*types.Relationship
	consolidations map[string]*types.ConsolidationQueueItem
	contradictions map[string]*types.ContradictionItem
	retrievalLogs  []*types.RetrievalLog
	weights        map[string]*types.StrategyWeights
	reports        []*types.RunReport
	states         map[types.Scope]*types.EvolutionState

	// failOn maps an operation name to an error, to exercise failure
	// isolation paths. failAfter lets the op succeed that many times before
	// the error kicks in, for mid-sequence failures.
	failOn    map[string]error
	failAfter map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		memories:       make(map[string]*types.Memory),
		entities:       make(map[string]*types.Entity),
		relationships:  make(map[string]*types.Relationship),
		consolidations: make(map[string]*types.ConsolidationQueueItem),
		contradictions: make(map[string]*types.ContradictionItem),
		weights:        make(map[string]*types.StrategyWeights),
		states:         make(map[types.Scope]*types.EvolutionState),
		failOn:         make(map[string]error),
		failAfter:      make(map[string]int),
	}
}

func (s *memStore) fail(op string) error {
	err, ok := s.failOn[op]
	if !ok {
		return nil
	}
	if remaining := s.failAfter[op]; remaining > 0 {
		s.failAfter[op] = remaining - 1
		return nil
	}
	return err
}

func cloneMemory(m *types.Memory) *types.Memory {
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	out.Embedding = append([]float32(nil), m.Embedding...)
	out.StatusHistory = append([]types.StatusChange(nil), m.StatusHistory...)
	out.SourceIDs = append([]string(nil), m.SourceIDs...)
	out.SourceSessions = append([]string(nil), m.SourceSessions...)
	if m.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	if m.LastAccessedAt != nil {
		t := *m.LastAccessedAt
		out.LastAccessedAt = &t
	}
	return &out
}

func cloneEntity(e *types.Entity) *types.Entity {
	out := *e
	out.Embedding = append([]float32(nil), e.Embedding...)
	return &out
}

func cloneRelationship(r *types.Relationship) *types.Relationship {
	out := *r
	out.Evidence = append([]string(nil), r.Evidence...)
	if r.InvalidAt != nil {
		t := *r.InvalidAt
		out.InvalidAt = &t
	}
	return &out
}

func (s *memStore) StoreMemory(_ context.Context, memory *types.Memory) error {
	if err := s.fail("StoreMemory"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[memory.ID] = cloneMemory(memory)
	return nil
}

func (s *memStore) GetMemory(_ context.Context, id string) (*types.Memory, error) {
	if err := s.fail("GetMemory"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneMemory(m), nil
}

func (s *memStore) DeleteMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.memories, id)
	return nil
}

func (s *memStore) filtered(filter storage.MemoryFilter) []*types.Memory {
	var out []*types.Memory
	for _, m := range s.memories {
		if filter.MatchesMemory(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		var less bool
		switch filter.SortBy {
		case "importance":
			if out[i].Importance != out[j].Importance {
				less = out[i].Importance < out[j].Importance
			} else {
				less = out[i].ID < out[j].ID
			}
		case "updated_at":
			if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
				less = out[i].UpdatedAt.Before(out[j].UpdatedAt)
			} else {
				less = out[i].ID < out[j].ID
			}
		case "id":
			less = out[i].ID < out[j].ID
		default:
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				less = out[i].CreatedAt.Before(out[j].CreatedAt)
			} else {
				less = out[i].ID < out[j].ID
			}
		}
		if filter.SortOrder == "desc" {
			return !less
		}
		return less
	})
	return out
}

func (s *memStore) ListMemories(_ context.Context, filter storage.MemoryFilter) (*storage.PaginatedResult[types.Memory], error) {
	if err := s.fail("ListMemories"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	filter.Normalize()
	all := s.filtered(filter)
	total := len(all)
	start := filter.Offset()
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	items := make([]types.Memory, 0, end-start)
	for _, m := range all[start:end] {
		items = append(items, *cloneMemory(m))
	}
	return &storage.PaginatedResult[types.Memory]{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.Limit,
		HasMore:  end < total,
	}, nil
}

func (s *memStore) FindSimilarMemories(_ context.Context, vector []float32, threshold float64, filter storage.MemoryFilter) ([]storage.SimilarityMatch[types.Memory], error) {
	if err := s.fail("FindSimilarMemories"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.SimilarityMatch[types.Memory]
	for _, m := range s.memories {
		if len(m.Embedding) == 0 || !filter.MatchesMemory(m) {
			continue
		}
		sim := storage.CosineSimilarity(vector, m.Embedding)
		if sim >= threshold {
			out = append(out, storage.SimilarityMatch[types.Memory]{Record: cloneMemory(m), Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func (s *memStore) IncrementAccess(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return storage.ErrNotFound
	}
	m.AccessCount++
	t := at
	m.LastAccessedAt = &t
	return nil
}

func (s *memStore) CountMemories(_ context.Context, filter storage.MemoryFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filter.Normalize()
	return len(s.filtered(filter)), nil
}

func (s *memStore) StoreEntity(_ context.Context, entity *types.Entity) error {
	if err := s.fail("StoreEntity"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

func (s *memStore) GetEntity(_ context.Context, id string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneEntity(e), nil
}

func (s *memStore) DeleteEntity(_ context.Context, id string) error {
	if err := s.fail("DeleteEntity"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.entities, id)
	return nil
}

func (s *memStore) ListEntities(_ context.Context, scope types.Scope, entityType string) ([]*types.Entity, error) {
	if err := s.fail("ListEntities"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Entity
	for _, e := range s.entities {
		if scope != "" && e.Scope != scope {
			continue
		}
		if entityType != "" && e.Type != entityType {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) FindSimilarEntities(_ context.Context, vector []float32, threshold float64, scope types.Scope, entityType string) ([]storage.SimilarityMatch[types.Entity], error) {
	if err := s.fail("FindSimilarEntities"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.SimilarityMatch[types.Entity]
	for _, e := range s.entities {
		if e.Scope != scope || len(e.Embedding) == 0 {
			continue
		}
		if entityType != "" && e.Type != entityType {
			continue
		}
		sim := storage.CosineSimilarity(vector, e.Embedding)
		if sim >= threshold {
			out = append(out, storage.SimilarityMatch[types.Entity]{Record: cloneEntity(e), Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func (s *memStore) CreateRelationship(_ context.Context, rel *types.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships[rel.ID] = cloneRelationship(rel)
	return nil
}

func (s *memStore) UpdateRelationship(_ context.Context, rel *types.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[rel.ID]; !ok {
		return storage.ErrNotFound
	}
	s.relationships[rel.ID] = cloneRelationship(rel)
	return nil
}

func (s *memStore) GetRelationships(_ context.Context, fromID string, activeOnly bool) ([]*types.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Relationship
	for _, r := range s.relationships {
		if r.FromID != fromID {
			continue
		}
		if activeOnly && !r.IsActive() {
			continue
		}
		out = append(out, cloneRelationship(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) DeleteRelationshipsFor(_ context.Context, entityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.relationships {
		if r.FromID == entityID || r.ToID == entityID {
			delete(s.relationships, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) Traverse(_ context.Context, entityID string, edgeTypes []string, depth int) ([]*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[string]bool, len(edgeTypes))
	for _, t := range edgeTypes {
		allowed[t] = true
	}
	seen := map[string]bool{entityID: true}
	frontier := []string{entityID}
	var out []*types.Entity
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, from := range frontier {
			for _, r := range s.relationships {
				if r.FromID != from || !r.IsActive() {
					continue
				}
				if len(edgeTypes) > 0 && !allowed[r.Type] {
					continue
				}
				if seen[r.ToID] {
					continue
				}
				seen[r.ToID] = true
				if e, ok := s.entities[r.ToID]; ok {
					out = append(out, cloneEntity(e))
				}
				next = append(next, r.ToID)
			}
		}
		frontier = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) EnqueueConsolidation(_ context.Context, item *types.ConsolidationQueueItem) error {
	if err := s.fail("EnqueueConsolidation"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Enqueue dedupes on ID, like the SQL backends' conflict-ignoring insert.
	if _, ok := s.consolidations[item.ID]; ok {
		return nil
	}
	copied := *item
	copied.MemoryIDs = append([]string(nil), item.MemoryIDs...)
	s.consolidations[item.ID] = &copied
	return nil
}

func (s *memStore) PendingConsolidations(_ context.Context, scope types.Scope) ([]*types.ConsolidationQueueItem, error) {
	if err := s.fail("PendingConsolidations"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ConsolidationQueueItem
	for _, item := range s.consolidations {
		if scope != "" && item.Scope != scope {
			continue
		}
		copied := *item
		copied.MemoryIDs = append([]string(nil), item.MemoryIDs...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) CompleteConsolidation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consolidations[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.consolidations, id)
	return nil
}

func (s *memStore) DeferConsolidation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.consolidations[id]
	if !ok {
		return storage.ErrNotFound
	}
	item.Attempts++
	return nil
}

func (s *memStore) EnqueueContradiction(_ context.Context, item *types.ContradictionItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contradictions[item.ID]; ok {
		return nil
	}
	copied := *item
	copied.EdgeIDs = append([]string(nil), item.EdgeIDs...)
	copied.Types = append([]string(nil), item.Types...)
	s.contradictions[item.ID] = &copied
	return nil
}

func (s *memStore) PendingContradictions(_ context.Context, scope types.Scope) ([]*types.ContradictionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ContradictionItem
	for _, item := range s.contradictions {
		if scope != "" && item.Scope != scope {
			continue
		}
		copied := *item
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AppendRetrievalLog(_ context.Context, log *types.RetrievalLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *log
	s.retrievalLogs = append(s.retrievalLogs, &copied)
	return nil
}

func (s *memStore) RetrievalWindow(_ context.Context, scope types.Scope, since time.Time) ([]*types.RetrievalLog, error) {
	if err := s.fail("RetrievalWindow"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.RetrievalLog
	for _, log := range s.retrievalLogs {
		if scope != "" && log.Scope != scope {
			continue
		}
		if log.Timestamp.Before(since) {
			continue
		}
		copied := *log
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func weightsStoreKey(scope types.Scope, queryType string) string {
	return string(scope) + "|" + queryType
}

func (s *memStore) GetWeights(_ context.Context, scope types.Scope, queryType string) (*types.StrategyWeights, error) {
	if err := s.fail("GetWeights"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weights[weightsStoreKey(scope, queryType)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *w
	return &copied, nil
}

func (s *memStore) PutWeights(_ context.Context, weights *types.StrategyWeights) error {
	if err := s.fail("PutWeights"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *weights
	s.weights[weightsStoreKey(weights.Scope, weights.QueryType)] = &copied
	return nil
}

func (s *memStore) AppendRunReport(_ context.Context, report *types.RunReport) error {
	if err := s.fail("AppendRunReport"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *report
	copied.Failures = append([]string(nil), report.Failures...)
	s.reports = append(s.reports, &copied)
	return nil
}

func (s *memStore) RecentRunReports(_ context.Context, scope types.Scope, limit int) ([]*types.RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.RunReport
	for i := len(s.reports) - 1; i >= 0 && len(out) < limit; i-- {
		if scope != "" && s.reports[i].Scope != scope {
			continue
		}
		copied := *s.reports[i]
		out = append(out, &copied)
	}
	return out, nil
}

func (s *memStore) GetState(_ context.Context, scope types.Scope) (*types.EvolutionState, error) {
	if err := s.fail("GetState"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[scope]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (s *memStore) PutState(_ context.Context, state *types.EvolutionState) error {
	if err := s.fail("PutState"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *state
	s.states[state.Scope] = &copied
	return nil
}

func (s *memStore) Close() error { return nil }

var _ storage.Store = (*memStore)(nil)

// mustMemory stores a memory or fails the test builder chain.
func mustStoreMemory(s *memStore, m *types.Memory) {
	if err := s.StoreMemory(context.Background(), m); err != nil {
		panic(fmt.Sprintf("store memory %s: %v", m.ID, err))
	}
}

// testMemory returns a memory with sensible defaults; override fields via
// the mutate callback.
func testMemory(id string, mutate func(*types.Memory)) *types.Memory {
	now := time.Now().UTC()
	m := &types.Memory{
		ID:         id,
		Content:    "content " + strings.TrimPrefix(id, "mem:"),
		MemoryType: types.MemoryTypeEpisodic,
		Scope:      types.ScopeSession,
		SessionID:  "sess-1",
		Confidence: 0.8,
		Status:     types.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if mutate != nil {
		mutate(m)
	}
	return m
}
