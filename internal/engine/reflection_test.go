package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/baladithyab/engram-sub001/internal/llm"
	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

func newReflectorForTest(store *memStore, text llm.Summarizer) *Reflector {
	c := NewConsolidator(store, text, 20, nil)
	return NewReflector(store, c, text, nil)
}

// TestReflectPromotesCrossSessionCandidates verifies discovery finds
// project memories with enough session evidence and promotes them.
func TestReflectPromotesCrossSessionCandidates(t *testing.T) {
	store := newMemStore()
	r := newReflectorForTest(store, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	mustStoreMemory(store, testMemory("mem:proven", func(m *types.Memory) {
		m.Scope = types.ScopeProject
		m.SessionID = ""
		m.MemoryType = types.MemoryTypeProcedural
		m.Importance = 0.8
		m.SourceSessions = []string{"s1", "s2", "s3"}
	}))
	// Only two sessions: not a candidate.
	mustStoreMemory(store, testMemory("mem:thin", func(m *types.Memory) {
		m.Scope = types.ScopeProject
		m.SessionID = ""
		m.MemoryType = types.MemoryTypeSemantic
		m.SourceSessions = []string{"s1", "s2"}
	}))

	report := &RunReport{}
	r.Reflect(ctx, types.ScopeProject, now, report)

	if report.PromotionCandidates != 1 {
		t.Errorf("candidates = %d, want 1", report.PromotionCandidates)
	}
	if report.Promotions != 1 {
		t.Errorf("promotions = %d, want 1", report.Promotions)
	}
	count, _ := store.CountMemories(ctx, storage.MemoryFilter{Scope: types.ScopeUser})
	if count != 1 {
		t.Errorf("user memories = %d, want 1", count)
	}
	if len(report.Failures) != 0 {
		t.Errorf("failures = %v, want none", report.Failures)
	}
}

// TestReflectSkipsAlreadyPromotedCandidates verifies reflection does not
// re-promote memories carrying promotion metadata.
func TestReflectSkipsAlreadyPromotedCandidates(t *testing.T) {
	store := newMemStore()
	r := newReflectorForTest(store, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	mustStoreMemory(store, testMemory("mem:done", func(m *types.Memory) {
		m.Scope = types.ScopeProject
		m.SessionID = ""
		m.MemoryType = types.MemoryTypeProcedural
		m.SourceSessions = []string{"s1", "s2", "s3"}
		m.Metadata = map[string]interface{}{"promoted_to": "mem:user-copy"}
	}))

	report := &RunReport{}
	r.Reflect(ctx, types.ScopeProject, now, report)

	if report.PromotionCandidates != 0 || report.Promotions != 0 {
		t.Errorf("report = %+v, want no candidates and no promotions", report)
	}
}

// TestArchiveNoise verifies old, unaccessed, low-importance created
// memories get archived while everything else survives.
func TestArchiveNoise(t *testing.T) {
	store := newMemStore()
	r := newReflectorForTest(store, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	old := now.AddDate(0, 0, -20)
	mustStoreMemory(store, testMemory("mem:noise", func(m *types.Memory) {
		m.Status = types.StatusCreated
		m.Importance = 0.1
		m.CreatedAt = old
		m.UpdatedAt = old
	}))
	// Too recent.
	mustStoreMemory(store, testMemory("mem:young", func(m *types.Memory) {
		m.Status = types.StatusCreated
		m.Importance = 0.1
	}))
	// Important enough to keep.
	mustStoreMemory(store, testMemory("mem:notable", func(m *types.Memory) {
		m.Status = types.StatusCreated
		m.Importance = 0.5
		m.CreatedAt = old
		m.UpdatedAt = old
	}))
	// Accessed at least once.
	mustStoreMemory(store, testMemory("mem:used", func(m *types.Memory) {
		m.Status = types.StatusCreated
		m.Importance = 0.1
		m.AccessCount = 1
		m.CreatedAt = old
		m.UpdatedAt = old
	}))

	report := &RunReport{}
	r.Reflect(ctx, types.ScopeSession, now, report)

	if report.NoiseArchived != 1 {
		t.Errorf("noise archived = %d, want 1", report.NoiseArchived)
	}
	noise, _ := store.GetMemory(ctx, "mem:noise")
	if noise.Status != types.StatusArchived {
		t.Errorf("noise status = %s, want archived", noise.Status)
	}
	for _, id := range []string{"mem:young", "mem:notable", "mem:used"} {
		mem, _ := store.GetMemory(ctx, id)
		if mem.Status != types.StatusCreated {
			t.Errorf("%s status = %s, want untouched created", id, mem.Status)
		}
	}
}

// TestArchiveNoiseSpansPages verifies one reflection pass archives every
// stale noise memory even when the population spans several query pages and
// each archive shrinks the created-status set.
func TestArchiveNoiseSpansPages(t *testing.T) {
	store := newMemStore()
	r := newReflectorForTest(store, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	old := now.AddDate(0, 0, -20)
	const total = 1200
	for i := 0; i < total; i++ {
		mustStoreMemory(store, testMemory(fmt.Sprintf("mem:n%04d", i), func(m *types.Memory) {
			m.Status = types.StatusCreated
			m.Importance = 0.1
			m.CreatedAt = old
			m.UpdatedAt = old
		}))
	}

	report := &RunReport{}
	r.Reflect(ctx, types.ScopeSession, now, report)

	if report.NoiseArchived != total {
		t.Errorf("noise archived = %d, want %d", report.NoiseArchived, total)
	}
	remaining, _ := store.CountMemories(ctx, storage.MemoryFilter{
		Scope:    types.ScopeSession,
		Statuses: []types.Status{types.StatusCreated},
	})
	if remaining != 0 {
		t.Errorf("still created after one pass = %d, want 0", remaining)
	}
}

// TestGenerateMetaMemory verifies the dominant topic tag gets summarized
// into a user-scope semantic meta-memory.
func TestGenerateMetaMemory(t *testing.T) {
	store := newMemStore()
	text := &llm.MockTextService{SummaryResponse: "the team keeps refining the deploy pipeline"}
	r := newReflectorForTest(store, text)
	now := time.Now().UTC()
	ctx := context.Background()

	for _, id := range []string{"mem:d1", "mem:d2", "mem:d3"} {
		mustStoreMemory(store, testMemory(id, func(m *types.Memory) {
			m.Scope = types.ScopeProject
			m.Tags = []string{"deploy"}
			m.Importance = 0.7
		}))
	}
	// A weaker minority tag.
	mustStoreMemory(store, testMemory("mem:other", func(m *types.Memory) {
		m.Scope = types.ScopeProject
		m.Tags = []string{"billing"}
		m.Importance = 0.3
	}))

	report := &RunReport{}
	r.Reflect(ctx, types.ScopeProject, now, report)

	if report.MetaMemoriesCreated != 1 {
		t.Fatalf("meta memories = %d, want 1", report.MetaMemoriesCreated)
	}

	result, _ := store.ListMemories(ctx, storage.MemoryFilter{Scope: types.ScopeUser, Tag: metaMemoryTag})
	if len(result.Items) != 1 {
		t.Fatalf("meta memories in user scope = %d, want 1", len(result.Items))
	}
	meta := result.Items[0]
	if meta.Content != "the team keeps refining the deploy pipeline" {
		t.Errorf("content = %q, want the summary", meta.Content)
	}
	if !meta.HasTag("deploy") {
		t.Errorf("tags = %v, want the dominant topic tag", meta.Tags)
	}
	if meta.MemoryType != types.MemoryTypeSemantic {
		t.Errorf("memory type = %s, want semantic", meta.MemoryType)
	}
}

// TestGenerateMetaMemorySkipsWithoutService verifies reflection degrades to
// a skip when no text service is wired.
func TestGenerateMetaMemorySkipsWithoutService(t *testing.T) {
	store := newMemStore()
	r := newReflectorForTest(store, nil)
	now := time.Now().UTC()

	for _, id := range []string{"mem:d1", "mem:d2", "mem:d3"} {
		mustStoreMemory(store, testMemory(id, func(m *types.Memory) {
			m.Tags = []string{"deploy"}
			m.Importance = 0.7
		}))
	}

	report := &RunReport{}
	r.Reflect(context.Background(), types.ScopeSession, now, report)

	if report.MetaMemoriesCreated != 0 {
		t.Errorf("meta memories = %d, want 0 without a text service", report.MetaMemoriesCreated)
	}
	if report.Skips == 0 {
		t.Error("expected the meta stage to record a skip")
	}
	if len(report.Failures) != 0 {
		t.Errorf("failures = %v, want none", report.Failures)
	}
}
