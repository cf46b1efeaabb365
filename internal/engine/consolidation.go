package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/baladithyab/engram-sub001/internal/llm"
	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// Consolidator deduplicates, merges, and promotes memories across the scope
// hierarchy, and folds groups of episodic memories into semantic summaries
// via the external text service.
type Consolidator struct {
	store        storage.Store
	text         llm.Summarizer
	logger       *zap.Logger
	promotionCap int
}

// NewConsolidator creates a consolidator. text may be nil; summarization
// items are then deferred until a service is available.
func NewConsolidator(store storage.Store, text llm.Summarizer, promotionCap int, logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if promotionCap < 1 {
		promotionCap = 20
	}
	return &Consolidator{store: store, text: text, logger: logger, promotionCap: promotionCap}
}

// PromotionResult describes the outcome of a single promotion attempt.
type PromotionResult struct {
	// Eligible is false when the gates rejected the memory; nothing was
	// mutated in that case.
	Eligible bool

	// Merged is true when the memory folded into an existing target rather
	// than creating a new one.
	Merged bool

	// TargetID is the surviving memory in the broader scope.
	TargetID string

	// Reason explains an ineligible result.
	Reason string
}

// DrainQueue processes pending consolidation queue items for a scope.
// Failed or not-yet-ready items stay queued (deferred) and are retried on
// the next pass; an item is only removed once fully processed. A later pass
// in the same run observes this pass's writes.
func (c *Consolidator) DrainQueue(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) error {
	items, err := c.store.PendingConsolidations(ctx, scope)
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	for _, item := range items {
		var err error
		switch item.Reason {
		case types.ReasonStrengthDecay:
			err = c.consolidateDecayed(ctx, item, now, report)
		case types.ReasonEpisodicToSemantic:
			err = c.summarizeEpisodic(ctx, item, now, report)
		default:
			c.logger.Warn("unknown consolidation reason, removing item",
				zap.String("item_id", item.ID),
				zap.String("reason", string(item.Reason)))
			err = c.store.CompleteConsolidation(ctx, item.ID)
		}

		if err != nil {
			// Leave the item queued; it will be retried next pass.
			report.Skips++
			report.Failures = append(report.Failures, fmt.Sprintf("queue item %s: %v", item.ID, err))
			if deferErr := c.store.DeferConsolidation(ctx, item.ID); deferErr != nil {
				c.logger.Warn("failed to defer queue item", zap.String("item_id", item.ID), zap.Error(deferErr))
			}
		}
	}
	return nil
}

// consolidateDecayed applies the deferred active -> consolidated transition
// for a strength-decay item. The status change happens here, at processing
// time, not at enqueue time.
func (c *Consolidator) consolidateDecayed(ctx context.Context, item *types.ConsolidationQueueItem, now time.Time, report *RunReport) error {
	if len(item.MemoryIDs) == 0 {
		return c.store.CompleteConsolidation(ctx, item.ID)
	}

	mem, err := c.store.GetMemory(ctx, item.MemoryIDs[0])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.store.CompleteConsolidation(ctx, item.ID)
		}
		return err
	}

	switch mem.Status {
	case types.StatusForgotten:
		// Invariant violation: log, skip, drop the stale item.
		c.logger.Warn("skipping consolidation of forgotten memory", zap.String("memory_id", mem.ID))
		return c.store.CompleteConsolidation(ctx, item.ID)
	case types.StatusConsolidated, types.StatusArchived:
		// Already transitioned by an earlier run; the item is stale.
		return c.store.CompleteConsolidation(ctx, item.ID)
	}

	// Re-check the guard against current scores: an access since enqueue may
	// have revived the memory.
	mem.Importance = Importance(mem, now)
	if EvaluateTransition(mem, now) != ActionEnqueueConsolidation {
		return c.store.CompleteConsolidation(ctx, item.ID)
	}

	mem.RecordStatusChange(types.StatusConsolidated, string(types.ReasonStrengthDecay), now)
	if err := c.store.StoreMemory(ctx, mem); err != nil {
		return err
	}
	report.Consolidations++
	return c.store.CompleteConsolidation(ctx, item.ID)
}

// summaryMemoryID derives the semantic summary's memory ID from its queue
// item. The deterministic ID lets a retried item find the summary a partially
// failed run already stored instead of creating a second one.
func summaryMemoryID(itemID string) string {
	return "mem:" + strings.TrimPrefix(itemID, "cqi:")
}

// summarizeEpisodic folds a group of episodic memories sharing a topic tag
// into one semantic memory. Requires at least three live episodic members;
// smaller groups are deferred. Summarization failures leave the item queued
// with no partial state change. A retry resumes from an already-stored
// summary rather than summarizing again.
func (c *Consolidator) summarizeEpisodic(ctx context.Context, item *types.ConsolidationQueueItem, now time.Time, report *RunReport) error {
	if c.text == nil {
		return fmt.Errorf("no text service configured")
	}

	semantic, err := c.store.GetMemory(ctx, summaryMemoryID(item.ID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	var group []*types.Memory
	var texts []string
	for _, id := range item.MemoryIDs {
		mem, err := c.store.GetMemory(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		if mem.Status == types.StatusForgotten || mem.Status == types.StatusConsolidated {
			continue
		}
		if mem.MemoryType != types.MemoryTypeEpisodic {
			continue
		}
		if item.TopicTag != "" && !mem.HasTag(item.TopicTag) {
			continue
		}
		group = append(group, mem)
		texts = append(texts, mem.Content)
	}

	if semantic == nil {
		if len(group) < episodicGroupMin {
			return fmt.Errorf("group has %d eligible episodic memories, need %d", len(group), episodicGroupMin)
		}

		summary, err := c.text.Summarize(ctx, texts)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}

		// Summarization succeeded: store the semantic memory, then mark the
		// sources consolidated.
		maxImportance := 0.0
		sourceIDs := make([]string, 0, len(group))
		for _, mem := range group {
			sourceIDs = append(sourceIDs, mem.ID)
			if mem.Importance > maxImportance {
				maxImportance = mem.Importance
			}
		}

		semantic = &types.Memory{
			ID:         summaryMemoryID(item.ID),
			Content:    summary,
			MemoryType: types.MemoryTypeSemantic,
			Scope:      item.Scope,
			Tags:       []string{item.TopicTag},
			Importance: maxImportance,
			Confidence: averageConfidence(group),
			Status:     types.StatusCreated,
			SourceIDs:  sourceIDs,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := c.store.StoreMemory(ctx, semantic); err != nil {
			return err
		}
	}

	for _, mem := range group {
		mem.RecordStatusChange(types.StatusConsolidated, string(types.ReasonEpisodicToSemantic), now)
		if err := c.store.StoreMemory(ctx, mem); err != nil {
			return err
		}
	}

	report.Consolidations++
	c.logger.Info("consolidated episodic group",
		zap.String("topic", item.TopicTag),
		zap.Int("sources", len(group)),
		zap.String("semantic_id", semantic.ID))
	return c.store.CompleteConsolidation(ctx, item.ID)
}

// DiscoverEpisodicGroups finds active episodic memories sharing a topic tag
// and enqueues episodic_to_semantic items for groups of three or more,
// skipping tags already queued.
func (c *Consolidator) DiscoverEpisodicGroups(ctx context.Context, scope types.Scope, now time.Time) error {
	pending, err := c.store.PendingConsolidations(ctx, scope)
	if err != nil {
		return fmt.Errorf("discover groups: %w", err)
	}
	queuedTags := make(map[string]bool)
	for _, item := range pending {
		if item.Reason == types.ReasonEpisodicToSemantic {
			queuedTags[item.TopicTag] = true
		}
	}

	filter := storage.MemoryFilter{
		Scope:       scope,
		MemoryTypes: []types.MemoryType{types.MemoryTypeEpisodic},
		Statuses:    []types.Status{types.StatusActive},
		Limit:       500,
	}

	byTag := make(map[string][]string)
	for page := 1; ; page++ {
		filter.Page = page
		result, err := c.store.ListMemories(ctx, filter)
		if err != nil {
			return fmt.Errorf("discover groups: %w", err)
		}
		for i := range result.Items {
			for _, tag := range result.Items[i].Tags {
				byTag[tag] = append(byTag[tag], result.Items[i].ID)
			}
		}
		if !result.HasMore {
			break
		}
	}

	for tag, ids := range byTag {
		if len(ids) < episodicGroupMin || queuedTags[tag] {
			continue
		}
		item := &types.ConsolidationQueueItem{
			ID:         newQueueID(),
			Reason:     types.ReasonEpisodicToSemantic,
			MemoryIDs:  ids,
			TopicTag:   tag,
			Scope:      scope,
			EnqueuedAt: now,
		}
		if err := c.store.EnqueueConsolidation(ctx, item); err != nil {
			return fmt.Errorf("discover groups: %w", err)
		}
	}
	return nil
}

// PromoteSessionToProject promotes the strongest session memories of a
// session into project scope. Candidates need importance >= 0.5 and at
// least two accesses; the list is ranked by importance and capped. Each
// candidate either merges into a similar project memory (cosine > 0.85) or
// creates a new one with discounted importance and provenance metadata.
// Re-running is idempotent: already-promoted candidates are skipped and the
// similarity gate folds repeats into the first run's output.
func (c *Consolidator) PromoteSessionToProject(ctx context.Context, sessionID string, now time.Time, report *RunReport) error {
	filter := storage.MemoryFilter{
		Scope:     types.ScopeSession,
		SessionID: sessionID,
		MemoryTypes: []types.MemoryType{
			types.MemoryTypeSemantic,
			types.MemoryTypeProcedural,
			types.MemoryTypeEpisodic,
		},
		Statuses:       []types.Status{types.StatusActive, types.StatusConsolidated},
		MinImportance:  promotionMinImportance,
		MinAccessCount: promotionMinAccess,
		SortBy:         "importance",
		SortOrder:      "desc",
		Limit:          c.promotionCap,
		Page:           1,
	}

	result, err := c.store.ListMemories(ctx, filter)
	if err != nil {
		return fmt.Errorf("promote session: %w", err)
	}

	for i := range result.Items {
		candidate := &result.Items[i]
		if err := c.promoteCandidate(ctx, candidate, types.ScopeProject, projectPromotionDiscount, now, report); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("promote %s: %v", candidate.ID, err))
			c.logger.Warn("promotion failed", zap.String("memory_id", candidate.ID), zap.Error(err))
		}
	}
	return nil
}

// PromoteProjectToUser promotes a single project memory into user scope.
// Gated by evidence of reuse across at least three distinct sessions and
// restricted to procedural and semantic types; ineligible memories are
// reported without mutation.
func (c *Consolidator) PromoteProjectToUser(ctx context.Context, memoryID string, now time.Time, report *RunReport) (*PromotionResult, error) {
	mem, err := c.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("promote to user: %w", err)
	}

	if mem.Scope != types.ScopeProject {
		return &PromotionResult{Reason: "not a project-scope memory"}, nil
	}
	if mem.MemoryType != types.MemoryTypeProcedural && mem.MemoryType != types.MemoryTypeSemantic {
		return &PromotionResult{Reason: "only procedural and semantic memories promote to user scope"}, nil
	}
	if len(distinctSessions(mem)) < userPromotionMinSessions {
		return &PromotionResult{Reason: fmt.Sprintf("seen in %d sessions, need %d", len(distinctSessions(mem)), userPromotionMinSessions)}, nil
	}
	if mem.Status == types.StatusForgotten {
		return nil, fmt.Errorf("promote to user %s: %w", memoryID, ErrForgottenMemory)
	}

	before := report.Merges
	if err := c.promoteCandidate(ctx, mem, types.ScopeUser, userPromotionDiscount, now, report); err != nil {
		return nil, err
	}

	targetID, _ := mem.Metadata["promoted_to"].(string)
	return &PromotionResult{
		Eligible: true,
		Merged:   report.Merges > before,
		TargetID: targetID,
	}, nil
}

// promoteCandidate runs the merge-or-create step for one candidate. The
// similarity search and the subsequent write happen under the scheduler's
// per-scope serialization; within that, merge always wins when a duplicate
// appears after the candidate list was built.
func (c *Consolidator) promoteCandidate(ctx context.Context, candidate *types.Memory, target types.Scope, discount float64, now time.Time, report *RunReport) error {
	if promotedTo, ok := candidate.Metadata["promoted_to"].(string); ok && promotedTo != "" {
		// Already promoted by an earlier run.
		report.Skips++
		return nil
	}

	var match *types.Memory
	if len(candidate.Embedding) > 0 {
		matches, err := c.store.FindSimilarMemories(ctx, candidate.Embedding, promotionSimilarityGate, storage.MemoryFilter{Scope: target})
		if err != nil {
			return err
		}
		if len(matches) > 0 {
			match = matches[0].Record
		}
	}

	var targetID string
	if match != nil {
		// Merge: fold the candidate's evidence into the existing memory.
		match.AccessCount += candidate.AccessCount
		if candidate.Importance > match.Importance {
			match.Importance = candidate.Importance
		}
		match.SourceIDs = appendUnique(match.SourceIDs, candidate.ID)
		if candidate.SessionID != "" {
			match.SourceSessions = appendUnique(match.SourceSessions, candidate.SessionID)
		}
		for _, s := range candidate.SourceSessions {
			match.SourceSessions = appendUnique(match.SourceSessions, s)
		}
		match.UpdatedAt = now
		if err := c.store.StoreMemory(ctx, match); err != nil {
			return err
		}
		targetID = match.ID
		report.Merges++
	} else {
		promoted := &types.Memory{
			ID:             newMemoryID(),
			Content:        candidate.Content,
			MemoryType:     candidate.MemoryType,
			Scope:          target,
			Tags:           candidate.Tags,
			Embedding:      candidate.Embedding,
			Importance:     clamp01(candidate.Importance * discount),
			RelevanceScore: candidate.RelevanceScore,
			Confidence:     candidate.Confidence,
			OutcomeImpact:  candidate.OutcomeImpact,
			UserFeedback:   candidate.UserFeedback,
			AccessCount:    candidate.AccessCount,
			Status:         types.StatusCreated,
			PromotedFrom:   candidate.ID,
			SourceIDs:      []string{candidate.ID},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if candidate.SessionID != "" {
			promoted.SourceSessions = []string{candidate.SessionID}
		} else {
			promoted.SourceSessions = append([]string(nil), candidate.SourceSessions...)
		}
		if promoted.AccessCount > 0 {
			promoted.RecordStatusChange(types.StatusActive, "promoted_with_history", now)
		}
		if err := c.store.StoreMemory(ctx, promoted); err != nil {
			return err
		}
		targetID = promoted.ID
		report.Promotions++
	}

	if candidate.Metadata == nil {
		candidate.Metadata = make(map[string]interface{})
	}
	candidate.Metadata["promoted_to"] = targetID
	candidate.Metadata["promoted_at"] = now.Format(time.RFC3339)
	candidate.UpdatedAt = now
	return c.store.StoreMemory(ctx, candidate)
}

// distinctSessions returns the distinct session IDs a memory has evidence
// from, counting its own session.
func distinctSessions(mem *types.Memory) []string {
	out := make([]string, 0, len(mem.SourceSessions)+1)
	if mem.SessionID != "" {
		out = appendUnique(out, mem.SessionID)
	}
	for _, s := range mem.SourceSessions {
		out = appendUnique(out, s)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func averageConfidence(memories []*types.Memory) float64 {
	if len(memories) == 0 {
		return 0
	}
	var sum float64
	for _, m := range memories {
		sum += m.Confidence
	}
	return sum / float64(len(memories))
}
