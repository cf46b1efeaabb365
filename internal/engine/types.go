// Package engine implements the memory lifecycle and evolution engine:
// scoring, the status state machine, the consolidation pipeline, knowledge
// graph evolution, retrieval strategy adaptation, and the session-counted
// scheduler that orchestrates them against the storage boundary.
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/baladithyab/engram-sub001/pkg/types"
)

// Tuning constants. Thresholds are part of the engine's contract with its
// data, not deployment configuration; cadences and caps live in config.
const (
	// Lifecycle transition thresholds (evaluated on memory strength).
	consolidationStrengthThreshold = 0.3
	archiveStrengthThreshold       = 0.1
	forgetStrengthThreshold        = 0.01

	// consolidationMinAccess separates decayed-but-used memories (worth
	// consolidating) from decayed-and-unused ones (straight to archive).
	consolidationMinAccess = 2

	// Promotion gates.
	promotionMinImportance   = 0.5
	promotionMinAccess       = 2
	promotionSimilarityGate  = 0.85
	projectPromotionDiscount = 0.8
	userPromotionDiscount    = 0.7
	userPromotionMinSessions = 3

	// episodicGroupMin is the smallest episodic group worth summarizing.
	episodicGroupMin = 3

	// Graph evolution thresholds.
	entityDedupThreshold     = 0.88
	entityFoldConfidenceInc  = 0.05
	edgeWeightInc            = 0.1
	edgeConfidenceInc        = 0.05
	entityPruneConfidence    = 0.3
	entityPruneMinMentions   = 2
	edgeInvalidateConfidence = 0.2
	graphStalenessDays       = 30

	// Strategy adaptation.
	adaptationLearningRate = 0.1
	adaptationMinSamples   = 5
	neutralSuccessRate     = 0.5

	// Convergence freeze: a pass counts as stable when the applied delta
	// magnitude stays below convergenceDelta; after convergenceStableRuns
	// stable passes the key stops adapting.
	convergenceDelta      = 0.005
	convergenceStableRuns = 3

	// Reflection noise gate: unaccessed, low-importance memories older than
	// this are archived as noise.
	noiseMaxImportance = 0.2
	noiseMinAgeDays    = 14
)

// RunReport aliases the durable run-report record; the engine fills it in
// as passes execute and persists it at the end of every run.
type RunReport = types.RunReport

// newMemoryID returns a fresh memory identifier.
func newMemoryID() string {
	return fmt.Sprintf("mem:%s", uuid.NewString())
}

// newEntityID returns a fresh entity identifier.
func newEntityID() string {
	return fmt.Sprintf("ent:%s", uuid.NewString())
}

// newRelationshipID returns a fresh relationship identifier.
func newRelationshipID() string {
	return fmt.Sprintf("rel:%s", uuid.NewString())
}

// newQueueID returns a fresh queue item identifier.
func newQueueID() string {
	return fmt.Sprintf("cqi:%s", uuid.NewString())
}

// decayQueueID returns the deterministic strength-decay queue item identifier
// for a memory, so re-enqueueing while an item is pending dedupes on ID.
func decayQueueID(memoryID string) string {
	return fmt.Sprintf("cqi:decay:%s", memoryID)
}

// newReportID returns a fresh run-report identifier.
func newReportID() string {
	return fmt.Sprintf("run:%s", uuid.NewString())
}
