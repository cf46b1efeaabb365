package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/baladithyab/engram-sub001/pkg/types"
)

func appendLogs(t *testing.T, store *memStore, count int, at time.Time, mutate func(i int, l *types.RetrievalLog)) {
	t.Helper()
	for i := 0; i < count; i++ {
		log := &types.RetrievalLog{
			Scope:           types.ScopeProject,
			QueryType:       "factual",
			Strategy:        types.StrategyVector,
			ResultsReturned: 5,
			ResultsUsed:     1,
			LatencyMS:       20,
			Timestamp:       at,
		}
		if mutate != nil {
			mutate(i, log)
		}
		if err := store.AppendRetrievalLog(context.Background(), log); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}
}

// TestAggregateGroupsWindowLogs verifies grouping, counting, and the
// trailing-window cutoff.
func TestAggregateGroupsWindowLogs(t *testing.T) {
	store := newMemStore()
	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	appendLogs(t, store, 4, now.AddDate(0, 0, -1), nil)
	appendLogs(t, store, 2, now.AddDate(0, 0, -1), func(_ int, l *types.RetrievalLog) {
		l.Strategy = types.StrategyGraph
		l.ResultsUsed = 0
	})
	// Outside the window: ignored.
	appendLogs(t, store, 10, now.AddDate(0, 0, -45), nil)

	stats, err := a.Aggregate(ctx, types.ScopeProject, now)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats groups = %d, want 2", len(stats))
	}

	// Sorted by query type then strategy: graph before vector.
	if stats[0].Strategy != types.StrategyGraph || stats[0].TotalQueries != 2 {
		t.Errorf("stats[0] = %+v, want graph with 2 queries", stats[0])
	}
	if stats[1].Strategy != types.StrategyVector || stats[1].TotalQueries != 4 {
		t.Errorf("stats[1] = %+v, want vector with 4 queries", stats[1])
	}
	if stats[0].HelpfulCount != 0 || stats[1].HelpfulCount != 4 {
		t.Errorf("helpful counts = %d/%d, want 0 graph, 4 vector", stats[0].HelpfulCount, stats[1].HelpfulCount)
	}
}

// TestSuccessRateSampleGuard verifies the neutral prior below the minimum
// sample count.
func TestSuccessRateSampleGuard(t *testing.T) {
	few := &StrategyStats{TotalQueries: 5, HelpfulCount: 5}
	if got := few.SuccessRate(); got != 0.5 {
		t.Errorf("SuccessRate with 5 samples = %f, want neutral 0.5", got)
	}
	enough := &StrategyStats{TotalQueries: 6, HelpfulCount: 6}
	if got := enough.SuccessRate(); got != 1.0 {
		t.Errorf("SuccessRate with 6 samples = %f, want 1.0", got)
	}
}

// TestAdaptNudgesTowardSuccessfulStrategy verifies a helpful strategy gains
// weight, the blend stays normalized, and the row is upserted not
// duplicated.
func TestAdaptNudgesTowardSuccessfulStrategy(t *testing.T) {
	store := newMemStore()
	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	appendLogs(t, store, 10, now.AddDate(0, 0, -1), func(_ int, l *types.RetrievalLog) {
		l.Feedback = types.FeedbackHelpful
	})

	report := &RunReport{}
	if err := a.Adapt(ctx, types.ScopeProject, now, report); err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if report.WeightsAdapted != 1 {
		t.Fatalf("weights adapted = %d, want 1", report.WeightsAdapted)
	}

	weights, err := store.GetWeights(ctx, types.ScopeProject, "factual")
	if err != nil {
		t.Fatalf("GetWeights: %v", err)
	}
	// rate 1.0 -> delta 0.05; 0.45 renormalized over a 1.05 sum.
	wantVector := 0.45 / 1.05
	if math.Abs(weights.Vector-wantVector) > 1e-9 {
		t.Errorf("vector weight = %f, want %f", weights.Vector, wantVector)
	}
	sum := weights.Vector + weights.Keyword + weights.Graph
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weight sum = %f, want 1.0", sum)
	}
	if weights.Vector <= weights.Keyword {
		t.Errorf("helpful strategy did not gain weight: vector=%f keyword=%f", weights.Vector, weights.Keyword)
	}
	if weights.Samples != 10 {
		t.Errorf("samples = %d, want 10", weights.Samples)
	}
	if weights.StableRuns != 0 {
		t.Errorf("stable runs = %d, want 0 after a meaningful delta", weights.StableRuns)
	}
}

// TestAdaptPenalizesUnhelpfulStrategy verifies a failing strategy loses
// weight while the blend stays non-negative and normalized.
func TestAdaptPenalizesUnhelpfulStrategy(t *testing.T) {
	store := newMemStore()
	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	appendLogs(t, store, 10, now.AddDate(0, 0, -1), func(_ int, l *types.RetrievalLog) {
		l.Feedback = types.FeedbackUnhelpful
		l.ResultsUsed = 0
	})

	report := &RunReport{}
	if err := a.Adapt(ctx, types.ScopeProject, now, report); err != nil {
		t.Fatalf("Adapt: %v", err)
	}

	weights, err := store.GetWeights(ctx, types.ScopeProject, "factual")
	if err != nil {
		t.Fatalf("GetWeights: %v", err)
	}
	if weights.Vector >= 0.4 {
		t.Errorf("vector weight = %f, want below the 0.4 default", weights.Vector)
	}
	if weights.Vector < 0 || weights.Keyword < 0 || weights.Graph < 0 {
		t.Errorf("negative weight in blend: %+v", weights)
	}
	sum := weights.Vector + weights.Keyword + weights.Graph
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weight sum = %f, want 1.0", sum)
	}
}

// TestAdaptNeutralOutcomeCountsTowardConvergence verifies a near-neutral
// pass leaves weights at defaults and bumps the stability counter.
func TestAdaptNeutralOutcomeCountsTowardConvergence(t *testing.T) {
	store := newMemStore()
	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	// Below the sample guard: neutral prior, zero delta.
	appendLogs(t, store, 3, now.AddDate(0, 0, -1), nil)

	report := &RunReport{}
	if err := a.Adapt(ctx, types.ScopeProject, now, report); err != nil {
		t.Fatalf("Adapt: %v", err)
	}

	weights, err := store.GetWeights(ctx, types.ScopeProject, "factual")
	if err != nil {
		t.Fatalf("GetWeights: %v", err)
	}
	if weights.Vector != 0.4 || weights.Keyword != 0.3 || weights.Graph != 0.3 {
		t.Errorf("weights = %+v, want untouched defaults", weights)
	}
	if weights.StableRuns != 1 {
		t.Errorf("stable runs = %d, want 1", weights.StableRuns)
	}
}

// TestAdaptFreezesConvergedKey verifies a converged key is held steady
// until its success rate moves away from neutral.
func TestAdaptFreezesConvergedKey(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	ctx := context.Background()

	converged := types.DefaultStrategyWeights(types.ScopeProject, "factual")
	converged.StableRuns = 3
	converged.Samples = 40
	if err := store.PutWeights(ctx, converged); err != nil {
		t.Fatal(err)
	}

	// Half helpful: success rate 0.5, inside the freeze band.
	appendLogs(t, store, 10, now.AddDate(0, 0, -1), func(i int, l *types.RetrievalLog) {
		if i%2 == 0 {
			l.Feedback = types.FeedbackHelpful
		} else {
			l.Feedback = types.FeedbackUnhelpful
			l.ResultsUsed = 0
		}
	})

	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	report := &RunReport{}
	if err := a.Adapt(ctx, types.ScopeProject, now, report); err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if report.Skips != 1 || report.WeightsAdapted != 0 {
		t.Errorf("report = %+v, want 1 skip, 0 adapted", report)
	}
	weights, _ := store.GetWeights(ctx, types.ScopeProject, "factual")
	if weights.Samples != 40 {
		t.Errorf("samples = %d, want frozen at 40", weights.Samples)
	}
}

// TestAdaptUnfreezesOnStrongSignal verifies a converged key resumes
// adapting when the success rate swings away from neutral.
func TestAdaptUnfreezesOnStrongSignal(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	ctx := context.Background()

	converged := types.DefaultStrategyWeights(types.ScopeProject, "factual")
	converged.StableRuns = 3
	if err := store.PutWeights(ctx, converged); err != nil {
		t.Fatal(err)
	}

	appendLogs(t, store, 10, now.AddDate(0, 0, -1), func(_ int, l *types.RetrievalLog) {
		l.Feedback = types.FeedbackHelpful
	})

	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	report := &RunReport{}
	if err := a.Adapt(ctx, types.ScopeProject, now, report); err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if report.WeightsAdapted != 1 || report.Skips != 0 {
		t.Errorf("report = %+v, want the key unfrozen and adapted", report)
	}
	weights, _ := store.GetWeights(ctx, types.ScopeProject, "factual")
	if weights.StableRuns != 0 {
		t.Errorf("stable runs = %d, want reset to 0", weights.StableRuns)
	}
	if weights.Vector <= 0.4 {
		t.Errorf("vector weight = %f, want above the default after a strong signal", weights.Vector)
	}
}

// TestAdaptKeepsKeysIndependent verifies separate query types adapt
// separately.
func TestAdaptKeysIndependent(t *testing.T) {
	store := newMemStore()
	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	now := time.Now().UTC()
	ctx := context.Background()

	appendLogs(t, store, 10, now.AddDate(0, 0, -1), func(_ int, l *types.RetrievalLog) {
		l.Feedback = types.FeedbackHelpful
	})
	appendLogs(t, store, 10, now.AddDate(0, 0, -1), func(_ int, l *types.RetrievalLog) {
		l.QueryType = "exploratory"
		l.Strategy = types.StrategyGraph
		l.Feedback = types.FeedbackUnhelpful
		l.ResultsUsed = 0
	})

	report := &RunReport{}
	if err := a.Adapt(ctx, types.ScopeProject, now, report); err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if report.WeightsAdapted != 2 {
		t.Fatalf("weights adapted = %d, want 2 keys", report.WeightsAdapted)
	}

	factual, _ := store.GetWeights(ctx, types.ScopeProject, "factual")
	exploratory, _ := store.GetWeights(ctx, types.ScopeProject, "exploratory")
	if factual.Vector <= 0.4 {
		t.Errorf("factual vector = %f, want boosted", factual.Vector)
	}
	if exploratory.Graph >= 0.3 {
		t.Errorf("exploratory graph = %f, want reduced", exploratory.Graph)
	}
}

// TestWeightsVectorWeightNeverExceedsBlend sanity-checks repeated positive
// updates keep the blend bounded.
func TestRepeatedAdaptationStaysBounded(t *testing.T) {
	store := newMemStore()
	a := NewStrategyAdapter(store, 30*24*time.Hour, nil)
	ctx := context.Background()

	for run := 0; run < 50; run++ {
		now := time.Now().UTC()
		appendLogs(t, store, 10, now.AddDate(0, 0, -1), func(_ int, l *types.RetrievalLog) {
			l.Feedback = types.FeedbackHelpful
		})
		if err := a.Adapt(ctx, types.ScopeProject, now, &RunReport{}); err != nil {
			t.Fatalf("Adapt run %d: %v", run, err)
		}
	}

	weights, err := store.GetWeights(ctx, types.ScopeProject, "factual")
	if err != nil {
		t.Fatal(err)
	}
	sum := weights.Vector + weights.Keyword + weights.Graph
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("weight sum = %f, want 1.0 after 50 runs", sum)
	}
	if weights.Vector <= weights.Keyword || weights.Vector <= weights.Graph {
		t.Errorf("dominant strategy lost its lead: %+v", weights)
	}
	if weights.Vector > 1.0 {
		t.Errorf("vector weight = %f, exceeded 1.0", weights.Vector)
	}
}
