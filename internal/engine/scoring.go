package engine

import (
	"math"
	"time"

	"github.com/baladithyab/engram-sub001/pkg/types"
)

// Scoring functions are pure: they read a memory snapshot and a clock value
// and return derived scores. Derived values are never persisted as cached
// columns; callers recompute them at read time.

const (
	// recencyDecayRate is the per-day exponent for the recency score.
	recencyDecayRate = 0.1

	// frequencySaturation is the access count at which frequency saturates.
	frequencySaturation = 10.0

	// accessHalfLifeBoost extends the effective half-life by 20% per access.
	accessHalfLifeBoost = 0.2
)

// Base half-lives in days, keyed by memory type. Working memories live
// about an hour; procedural knowledge persists for a month.
const (
	halfLifeEpisodic   = 1.0
	halfLifeSemantic   = 7.0
	halfLifeProcedural = 30.0
	halfLifeWorking    = 1.0 / 24.0
	halfLifeDefault    = 3.0
)

// Importance blend weights.
const (
	weightRecency    = 0.25
	weightFrequency  = 0.20
	weightRelevance  = 0.20
	weightConfidence = 0.15
	weightOutcome    = 0.10
	weightFeedback   = 0.10

	typeBonusProcedural = 0.10
	typeBonusSemantic   = 0.05
)

// clamp01 clamps v to [0.0, 1.0].
func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0.0), 1.0)
}

// daysSince returns the elapsed days from t to now, floored at zero.
func daysSince(t time.Time, now time.Time) float64 {
	days := now.Sub(t).Hours() / 24.0
	if days < 0 {
		return 0
	}
	return days
}

// RecencyScore returns exp(-0.1 * days since last update), in (0, 1].
func RecencyScore(mem *types.Memory, now time.Time) float64 {
	return math.Exp(-recencyDecayRate * daysSince(mem.UpdatedAt, now))
}

// FrequencyScore returns min(1, access_count / 10).
func FrequencyScore(mem *types.Memory) float64 {
	return math.Min(1.0, float64(mem.AccessCount)/frequencySaturation)
}

// typeBonus returns the importance bonus for a memory type.
func typeBonus(t types.MemoryType) float64 {
	switch t {
	case types.MemoryTypeProcedural:
		return typeBonusProcedural
	case types.MemoryTypeSemantic:
		return typeBonusSemantic
	}
	return 0
}

// Importance computes the composite importance score for a memory snapshot,
// clamped to [0, 1].
func Importance(mem *types.Memory, now time.Time) float64 {
	composite := weightRecency*RecencyScore(mem, now) +
		weightFrequency*FrequencyScore(mem) +
		weightRelevance*mem.RelevanceScore +
		weightConfidence*mem.Confidence +
		weightOutcome*mem.OutcomeImpact +
		weightFeedback*mem.UserFeedback +
		typeBonus(mem.MemoryType)
	return clamp01(composite)
}

// BaseHalfLife returns the decay half-life in days for a memory type.
func BaseHalfLife(t types.MemoryType) float64 {
	switch t {
	case types.MemoryTypeEpisodic:
		return halfLifeEpisodic
	case types.MemoryTypeSemantic:
		return halfLifeSemantic
	case types.MemoryTypeProcedural:
		return halfLifeProcedural
	case types.MemoryTypeWorking:
		return halfLifeWorking
	}
	return halfLifeDefault
}

// EffectiveHalfLife returns the half-life extended by access history: each
// recorded access stretches durability by 20%.
func EffectiveHalfLife(mem *types.Memory) float64 {
	return BaseHalfLife(mem.MemoryType) * (1.0 + float64(mem.AccessCount)*accessHalfLifeBoost)
}

// MemoryStrength returns the importance decayed exponentially since the last
// access. Strength is always in [0, importance].
func MemoryStrength(mem *types.Memory, now time.Time) float64 {
	days := daysSince(mem.LastAccessRef(), now)
	decay := math.Exp(-math.Ln2 * days / EffectiveHalfLife(mem))
	return mem.Importance * decay
}

// StrengthenOnAccess records one logical retrieval of a memory: it
// increments the access count, stamps the access time, and recomputes
// importance from the updated snapshot. It must be called exactly once per
// retrieval, never batched, to keep frequency accounting accurate. The
// caller persists the mutated memory.
func StrengthenOnAccess(mem *types.Memory, now time.Time) {
	mem.AccessCount++
	mem.LastAccessedAt = &now
	mem.Importance = Importance(mem, now)
	mem.UpdatedAt = now
}
