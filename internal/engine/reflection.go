package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/baladithyab/engram-sub001/internal/llm"
	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// metaMemoryTag marks semantic memories generated by the reflection pass.
const metaMemoryTag = "meta"

// Reflector runs the slow self-reflection pass: promotion-candidate
// discovery, noise-memory detection, and meta-memory generation.
type Reflector struct {
	store        storage.Store
	consolidator *Consolidator
	text         llm.Summarizer
	logger       *zap.Logger
}

// NewReflector creates a reflector. text may be nil; meta-memory generation
// is then skipped.
func NewReflector(store storage.Store, consolidator *Consolidator, text llm.Summarizer, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reflector{store: store, consolidator: consolidator, text: text, logger: logger}
}

// Reflect runs all three reflection stages for a scope. Stage failures are
// isolated: each stage reports its own errors and the remaining stages still
// run.
func (r *Reflector) Reflect(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) {
	if err := r.discoverPromotionCandidates(ctx, now, report); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("candidate discovery: %v", err))
	}
	if err := r.archiveNoise(ctx, scope, now, report); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("noise detection: %v", err))
	}
	if err := r.generateMetaMemory(ctx, scope, now, report); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("meta memory: %v", err))
	}
}

// discoverPromotionCandidates finds project memories with cross-session
// reuse evidence and attempts project -> user promotion for each. Ineligible
// candidates are counted as skips without mutation.
func (r *Reflector) discoverPromotionCandidates(ctx context.Context, now time.Time, report *RunReport) error {
	filter := storage.MemoryFilter{
		Scope: types.ScopeProject,
		MemoryTypes: []types.MemoryType{
			types.MemoryTypeProcedural,
			types.MemoryTypeSemantic,
		},
		Statuses: []types.Status{types.StatusActive, types.StatusConsolidated},
		Limit:    500,
	}

	for page := 1; ; page++ {
		filter.Page = page
		result, err := r.store.ListMemories(ctx, filter)
		if err != nil {
			return err
		}

		for i := range result.Items {
			mem := &result.Items[i]
			if len(distinctSessions(mem)) < userPromotionMinSessions {
				continue
			}
			if promotedTo, ok := mem.Metadata["promoted_to"].(string); ok && promotedTo != "" {
				continue
			}
			report.PromotionCandidates++

			outcome, err := r.consolidator.PromoteProjectToUser(ctx, mem.ID, now, report)
			if err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("reflect promote %s: %v", mem.ID, err))
				continue
			}
			if !outcome.Eligible {
				report.Skips++
			}
		}

		if !result.HasMore {
			return nil
		}
	}
}

// archiveNoise archives memories that were never accessed, carry low
// importance, and have aged past the noise window.
func (r *Reflector) archiveNoise(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) error {
	cutoff := now.AddDate(0, 0, -noiseMinAgeDays)
	filter := storage.MemoryFilter{
		Scope:    scope,
		Statuses: []types.Status{types.StatusCreated},
		Limit:    500,
	}

	// Collect every page before archiving: each archive removes a row from
	// the created-status filter, which would shift later pages and skip rows.
	var candidates []types.Memory
	for page := 1; ; page++ {
		filter.Page = page
		result, err := r.store.ListMemories(ctx, filter)
		if err != nil {
			return err
		}
		candidates = append(candidates, result.Items...)
		if !result.HasMore {
			break
		}
	}

	for i := range candidates {
		mem := &candidates[i]
		if mem.AccessCount > 0 || mem.Importance >= noiseMaxImportance {
			continue
		}
		if mem.CreatedAt.After(cutoff) {
			continue
		}

		mem.RecordStatusChange(types.StatusArchived, "noise", now)
		if err := r.store.StoreMemory(ctx, mem); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("archive noise %s: %v", mem.ID, err))
			continue
		}
		report.NoiseArchived++
	}
	return nil
}

// generateMetaMemory summarizes the scope's dominant topic tags into one
// semantic user-scope meta-memory. Skipped when no text service is
// configured, when too few tagged memories exist, or when summarization
// fails (no partial state).
func (r *Reflector) generateMetaMemory(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) error {
	if r.text == nil {
		report.Skips++
		return nil
	}

	filter := storage.MemoryFilter{
		Scope:     scope,
		Statuses:  []types.Status{types.StatusActive},
		SortBy:    "importance",
		SortOrder: "desc",
		Limit:     100,
		Page:      1,
	}
	result, err := r.store.ListMemories(ctx, filter)
	if err != nil {
		return err
	}

	// Rank tags by total importance of the memories carrying them.
	tagWeight := make(map[string]float64)
	byTag := make(map[string][]string)
	for i := range result.Items {
		mem := &result.Items[i]
		for _, tag := range mem.Tags {
			tagWeight[tag] += mem.Importance
			byTag[tag] = append(byTag[tag], mem.Content)
		}
	}
	if len(tagWeight) == 0 {
		report.Skips++
		return nil
	}

	tags := make([]string, 0, len(tagWeight))
	for tag := range tagWeight {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tagWeight[tags[i]] > tagWeight[tags[j]] })

	dominant := tags[0]
	if len(byTag[dominant]) < episodicGroupMin {
		report.Skips++
		return nil
	}

	summary, err := r.text.Summarize(ctx, byTag[dominant])
	if err != nil {
		return fmt.Errorf("summarize meta memory: %w", err)
	}

	meta := &types.Memory{
		ID:         newMemoryID(),
		Content:    summary,
		MemoryType: types.MemoryTypeSemantic,
		Scope:      types.ScopeUser,
		Tags:       []string{metaMemoryTag, dominant},
		Importance: 0.5,
		Confidence: 0.5,
		Status:     types.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.StoreMemory(ctx, meta); err != nil {
		return err
	}
	report.MetaMemoriesCreated++

	r.logger.Info("generated meta memory",
		zap.String("scope", string(scope)),
		zap.String("tag", dominant),
		zap.String("memory_id", meta.ID))
	return nil
}
