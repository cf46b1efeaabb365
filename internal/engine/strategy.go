package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// strategyCacheSize bounds the weights cache. The cache lives as long as the
// adapter and is written through on every persisted update, so repeated
// adaptation passes reuse it instead of rereading the store. The scheduler's
// per-scope serialization keeps it coherent with the backing rows.
const strategyCacheSize = 256

// StrategyStats aggregates retrieval outcomes for one (query type, strategy)
// pair over the trailing window.
type StrategyStats struct {
	QueryType string
	Strategy  types.RetrievalStrategy

	TotalQueries   int
	HelpfulCount   int
	UnhelpfulCount int
	MeanUsed       float64
	MeanLatencyMS  float64
}

// SuccessRate returns helpful/total when enough samples exist, otherwise
// the neutral 0.5 prior.
func (s *StrategyStats) SuccessRate() float64 {
	if s.TotalQueries <= adaptationMinSamples {
		return neutralSuccessRate
	}
	return float64(s.HelpfulCount) / float64(s.TotalQueries)
}

// StrategyAdapter nudges per (scope, query type) retrieval-mode blend
// weights from observed retrieval outcomes. Convergence is intentionally
// slow (learning rate 0.1, minimum sample guard) to avoid oscillation from
// sparse feedback.
type StrategyAdapter struct {
	store  storage.Store
	logger *zap.Logger
	window time.Duration
	cache  *lru.Cache[string, *types.StrategyWeights]
}

// NewStrategyAdapter creates a strategy adapter with the given trailing
// aggregation window.
func NewStrategyAdapter(store storage.Store, window time.Duration, logger *zap.Logger) *StrategyAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	cache, _ := lru.New[string, *types.StrategyWeights](strategyCacheSize)
	return &StrategyAdapter{store: store, logger: logger, window: window, cache: cache}
}

// Aggregate groups the scope's retrieval logs from the trailing window into
// per (query type, strategy) stats, sorted by query type then strategy for
// deterministic iteration.
func (a *StrategyAdapter) Aggregate(ctx context.Context, scope types.Scope, now time.Time) ([]*StrategyStats, error) {
	logs, err := a.store.RetrievalWindow(ctx, scope, now.Add(-a.window))
	if err != nil {
		return nil, fmt.Errorf("aggregate retrievals: %w", err)
	}

	type key struct {
		queryType string
		strategy  types.RetrievalStrategy
	}
	byKey := make(map[key]*StrategyStats)
	sumUsed := make(map[key]int)
	sumLatency := make(map[key]int64)

	for _, entry := range logs {
		k := key{queryType: entry.QueryType, strategy: entry.Strategy}
		stats, ok := byKey[k]
		if !ok {
			stats = &StrategyStats{QueryType: entry.QueryType, Strategy: entry.Strategy}
			byKey[k] = stats
		}
		stats.TotalQueries++
		if entry.Helpful() {
			stats.HelpfulCount++
		} else {
			stats.UnhelpfulCount++
		}
		sumUsed[k] += entry.ResultsUsed
		sumLatency[k] += entry.LatencyMS
	}

	out := make([]*StrategyStats, 0, len(byKey))
	for k, stats := range byKey {
		stats.MeanUsed = float64(sumUsed[k]) / float64(stats.TotalQueries)
		stats.MeanLatencyMS = float64(sumLatency[k]) / float64(stats.TotalQueries)
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueryType != out[j].QueryType {
			return out[i].QueryType < out[j].QueryType
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out, nil
}

// Adapt aggregates the window and applies one bounded weight update per
// observed (query type, strategy) pair. Missing weight rows initialize from
// defaults before adapting (upsert, never duplicate). Keys that have
// converged stay frozen until their success rate moves meaningfully away
// from neutral again.
func (a *StrategyAdapter) Adapt(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) error {
	statsList, err := a.Aggregate(ctx, scope, now)
	if err != nil {
		return err
	}

	for _, stats := range statsList {
		weights, err := a.weightsFor(ctx, scope, stats.QueryType)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("weights %s/%s: %v", scope, stats.QueryType, err))
			continue
		}

		rate := stats.SuccessRate()
		delta := (rate - neutralSuccessRate) * adaptationLearningRate

		if weights.StableRuns >= convergenceStableRuns && math.Abs(rate-neutralSuccessRate) <= 0.1 {
			// Converged; hold the blend steady.
			report.Skips++
			continue
		}

		weights.SetWeight(stats.Strategy, weights.Weight(stats.Strategy)+delta)
		weights.Normalize()
		weights.Samples += stats.TotalQueries
		if math.Abs(delta) < convergenceDelta {
			weights.StableRuns++
		} else {
			weights.StableRuns = 0
		}
		weights.UpdatedAt = now

		if err := a.store.PutWeights(ctx, weights); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("put weights %s/%s: %v", scope, stats.QueryType, err))
			continue
		}
		a.cache.Add(weightsKey(scope, stats.QueryType), weights)
		report.WeightsAdapted++

		a.logger.Debug("adapted strategy weights",
			zap.String("scope", string(scope)),
			zap.String("query_type", stats.QueryType),
			zap.String("strategy", string(stats.Strategy)),
			zap.Float64("success_rate", rate),
			zap.Float64("delta", delta))
	}
	return nil
}

// weightsFor returns the weights row for a key, consulting the cache first
// and falling back to defaults when the key has never been adapted.
func (a *StrategyAdapter) weightsFor(ctx context.Context, scope types.Scope, queryType string) (*types.StrategyWeights, error) {
	if cached, ok := a.cache.Get(weightsKey(scope, queryType)); ok {
		return cached, nil
	}

	weights, err := a.store.GetWeights(ctx, scope, queryType)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			weights = types.DefaultStrategyWeights(scope, queryType)
		} else {
			return nil, err
		}
	}
	a.cache.Add(weightsKey(scope, queryType), weights)
	return weights, nil
}

func weightsKey(scope types.Scope, queryType string) string {
	return string(scope) + "|" + queryType
}
