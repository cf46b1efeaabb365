package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// TestRetrievalWindow verifies the window cutoff, scope isolation, and
// oldest-first ordering.
func TestRetrievalWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	logs := []*types.RetrievalLog{
		{ID: "ret:old", Scope: types.ScopeProject, QueryType: "factual", Strategy: types.StrategyVector,
			ResultsReturned: 5, ResultsUsed: 2, Timestamp: now.Add(-48 * time.Hour)},
		{ID: "ret:in-1", Scope: types.ScopeProject, QueryType: "factual", Strategy: types.StrategyVector,
			ResultsReturned: 3, ResultsUsed: 1, Feedback: types.FeedbackHelpful, Timestamp: now.Add(-2 * time.Hour)},
		{ID: "ret:in-2", Scope: types.ScopeProject, QueryType: "exploratory", Strategy: types.StrategyGraph,
			ResultsReturned: 8, ResultsUsed: 0, Feedback: types.FeedbackUnhelpful, LatencyMS: 120, Timestamp: now.Add(-time.Hour)},
		{ID: "ret:other-scope", Scope: types.ScopeUser, QueryType: "factual", Strategy: types.StrategyKeyword,
			ResultsReturned: 1, ResultsUsed: 1, Timestamp: now},
	}
	for _, l := range logs {
		if err := store.AppendRetrievalLog(ctx, l); err != nil {
			t.Fatalf("append %s: %v", l.ID, err)
		}
	}

	window, err := store.RetrievalWindow(ctx, types.ScopeProject, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("RetrievalWindow: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("window = %d logs, want 2", len(window))
	}
	if window[0].ID != "ret:in-1" || window[1].ID != "ret:in-2" {
		t.Errorf("order = [%s %s], want oldest first", window[0].ID, window[1].ID)
	}
	if window[0].Feedback != types.FeedbackHelpful || window[1].LatencyMS != 120 {
		t.Errorf("log fields lost: %+v %+v", window[0], window[1])
	}
	if window[1].Strategy != types.StrategyGraph {
		t.Errorf("strategy = %s, want graph", window[1].Strategy)
	}
}

// TestWeightsGetNotFoundThenUpsert verifies the never-adapted sentinel and
// the single-row upsert per key.
func TestWeightsGetNotFoundThenUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetWeights(ctx, types.ScopeProject, "factual"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("fresh key err = %v, want ErrNotFound", err)
	}

	weights := types.DefaultStrategyWeights(types.ScopeProject, "factual")
	weights.Samples = 10
	if err := store.PutWeights(ctx, weights); err != nil {
		t.Fatalf("PutWeights: %v", err)
	}

	weights.Vector = 0.6
	weights.Keyword = 0.2
	weights.Graph = 0.2
	weights.Samples = 25
	weights.StableRuns = 2
	if err := store.PutWeights(ctx, weights); err != nil {
		t.Fatalf("PutWeights upsert: %v", err)
	}

	got, err := store.GetWeights(ctx, types.ScopeProject, "factual")
	if err != nil {
		t.Fatalf("GetWeights: %v", err)
	}
	if got.Vector != 0.6 || got.Samples != 25 || got.StableRuns != 2 {
		t.Errorf("upsert lost changes: %+v", got)
	}

	// Same query type in another scope is an independent key.
	if _, err := store.GetWeights(ctx, types.ScopeUser, "factual"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("other scope err = %v, want ErrNotFound", err)
	}
}

// TestRunReportsRoundTrip verifies the JSON body survives persistence and
// that RecentRunReports returns newest first with the limit applied.
func TestRunReportsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	reports := []*types.RunReport{
		{ID: "run:1", Scope: types.ScopeProject, Mode: "light", StartedAt: now.Add(-2 * time.Hour),
			Duration: 40 * time.Millisecond, SessionCount: 1, Promotions: 2},
		{ID: "run:2", Scope: types.ScopeProject, Mode: "full", StartedAt: now.Add(-time.Hour),
			Duration: 300 * time.Millisecond, SessionCount: 2, Archivals: 3, Consolidations: 1,
			Failures: []string{"prune: entity ent:x busy"}},
		{ID: "run:3", Scope: types.ScopeProject, Mode: "reflect", StartedAt: now,
			Duration: time.Second, SessionCount: 3, WeightsAdapted: 2, MetaMemoriesCreated: 1},
	}
	for _, r := range reports {
		if err := store.AppendRunReport(ctx, r); err != nil {
			t.Fatalf("append %s: %v", r.ID, err)
		}
	}

	recent, err := store.RecentRunReports(ctx, types.ScopeProject, 2)
	if err != nil {
		t.Fatalf("RecentRunReports: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want limit 2", len(recent))
	}
	if recent[0].ID != "run:3" || recent[1].ID != "run:2" {
		t.Errorf("order = [%s %s], want newest first", recent[0].ID, recent[1].ID)
	}
	if recent[0].WeightsAdapted != 2 || recent[0].MetaMemoriesCreated != 1 {
		t.Errorf("reflect counters lost: %+v", recent[0])
	}
	if len(recent[1].Failures) != 1 || recent[1].Archivals != 3 {
		t.Errorf("full counters lost: %+v", recent[1])
	}
	if recent[0].Duration != time.Second {
		t.Errorf("duration = %v, want 1s", recent[0].Duration)
	}
}

// TestEvolutionStateRoundTrip verifies the per-scope counter upsert and the
// untracked-scope sentinel.
func TestEvolutionStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := store.GetState(ctx, types.ScopeProject); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("fresh scope err = %v, want ErrNotFound", err)
	}

	state := &types.EvolutionState{Scope: types.ScopeProject, SessionCount: 1}
	if err := store.PutState(ctx, state); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	state.SessionCount = 5
	state.LastConsolidation = &now
	state.LastReflection = &now
	if err := store.PutState(ctx, state); err != nil {
		t.Fatalf("PutState upsert: %v", err)
	}

	got, err := store.GetState(ctx, types.ScopeProject)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.SessionCount != 5 {
		t.Errorf("session count = %d, want 5", got.SessionCount)
	}
	if got.LastConsolidation == nil || !got.LastConsolidation.Equal(now) {
		t.Errorf("last consolidation = %v, want %v", got.LastConsolidation, now)
	}
	if got.LastAdaptation != nil {
		t.Errorf("last adaptation = %v, want nil", got.LastAdaptation)
	}
}
