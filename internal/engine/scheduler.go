package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/baladithyab/engram-sub001/internal/config"
	"github.com/baladithyab/engram-sub001/internal/llm"
	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// MaintenanceMode selects how much of the pipeline a maintenance run
// executes.
type MaintenanceMode string

const (
	// ModeLight runs only the promotion pass.
	ModeLight MaintenanceMode = "light"

	// ModeFull runs promotion, lifecycle sweep, consolidation, and graph
	// evolution.
	ModeFull MaintenanceMode = "full"

	// ModeReflect runs the full pipeline plus strategy adaptation and
	// self-reflection.
	ModeReflect MaintenanceMode = "reflect"
)

// ToolEvent is an external tool-use completion forwarded to the engine.
type ToolEvent struct {
	SessionID string
	Tool      string
	Content   string
	Tags      []string
}

// Scheduler is the single entry point invoked by callers (background agent
// or manual trigger). It counts sessions per scope and decides which
// maintenance passes run at which cadence. At most one maintenance run is in
// flight per scope at a time; the interactive access path bypasses the lock
// because it touches exactly one record.
type Scheduler struct {
	store        storage.Store
	lifecycle    *Lifecycle
	consolidator *Consolidator
	graph        *GraphEvolver
	strategy     *StrategyAdapter
	reflector    *Reflector
	logger       *zap.Logger
	cfg          config.EngineConfig

	// limiter paces light promotion passes so session ticks stay inside
	// their latency budget.
	limiter *rate.Limiter

	mu         sync.Mutex
	scopeLocks map[types.Scope]*sync.Mutex

	// now is the clock; overridable in tests.
	now func() time.Time
}

// NewScheduler wires the engine components against a store and an optional
// text service.
func NewScheduler(store storage.Store, text llm.TextService, cfg config.EngineConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FullConsolidationEvery < 1 {
		cfg.FullConsolidationEvery = 5
	}
	if cfg.ReflectionEvery < 1 {
		cfg.ReflectionEvery = 20
	}
	if cfg.AdaptationWindowDays < 1 {
		cfg.AdaptationWindowDays = 30
	}
	if cfg.LightPassRate <= 0 {
		cfg.LightPassRate = 4
	}

	var summarizer llm.Summarizer
	if text != nil {
		summarizer = text
	}

	consolidator := NewConsolidator(store, summarizer, cfg.PromotionCap, logger)
	s := &Scheduler{
		store:        store,
		lifecycle:    NewLifecycle(store, logger),
		consolidator: consolidator,
		graph:        NewGraphEvolver(store, logger),
		strategy:     NewStrategyAdapter(store, time.Duration(cfg.AdaptationWindowDays)*24*time.Hour, logger),
		reflector:    NewReflector(store, consolidator, summarizer, logger),
		logger:       logger,
		cfg:          cfg,
		limiter:      rate.NewLimiter(rate.Limit(cfg.LightPassRate), 1),
		scopeLocks:   make(map[types.Scope]*sync.Mutex),
		now:          time.Now,
	}
	return s
}

// Graph exposes the graph evolver for extraction ingestion callers.
func (s *Scheduler) Graph() *GraphEvolver { return s.graph }

// Consolidator exposes the consolidation pipeline for direct invocation.
func (s *Scheduler) Consolidator() *Consolidator { return s.consolidator }

// scopeLock returns the advisory lock for a scope, creating it on first use.
func (s *Scheduler) scopeLock(scope types.Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.scopeLocks[scope]
	if !ok {
		lock = &sync.Mutex{}
		s.scopeLocks[scope] = lock
	}
	return lock
}

// OnSessionStart ensures the scope's evolution state exists. It performs no
// maintenance work.
func (s *Scheduler) OnSessionStart(ctx context.Context, scope types.Scope) error {
	_, err := s.loadState(ctx, scope)
	return err
}

// OnToolEvent ingests a tool-use completion as a working memory in session
// scope. Scoring and lifecycle pick it up from there.
func (s *Scheduler) OnToolEvent(ctx context.Context, scope types.Scope, event ToolEvent) (*types.Memory, error) {
	if event.Content == "" {
		return nil, fmt.Errorf("%w: tool event content is required", storage.ErrInvalidInput)
	}

	now := s.now()
	mem := &types.Memory{
		ID:         newMemoryID(),
		Content:    event.Content,
		MemoryType: types.MemoryTypeWorking,
		Scope:      scope,
		SessionID:  event.SessionID,
		Tags:       event.Tags,
		Confidence: 0.5,
		Status:     types.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if event.Tool != "" {
		mem.Metadata = map[string]interface{}{"tool": event.Tool}
	}
	mem.Importance = Importance(mem, now)

	if err := s.store.StoreMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("tool event: %w", err)
	}
	return mem, nil
}

// RecordAccess strengthens one memory for one logical retrieval. This is
// the interactive path: it touches exactly one record, takes no scope lock,
// and must stay sub-second.
func (s *Scheduler) RecordAccess(ctx context.Context, memoryID string) (*types.Memory, error) {
	return s.lifecycle.RecordAccess(ctx, memoryID, s.now())
}

// LogRetrieval appends one immutable retrieval log record for later
// strategy adaptation.
func (s *Scheduler) LogRetrieval(ctx context.Context, log *types.RetrievalLog) error {
	if log.ID == "" {
		log.ID = fmt.Sprintf("ret:%s", newMemoryID()[4:])
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = s.now()
	}
	return s.store.AppendRetrievalLog(ctx, log)
}

// OnSessionEnd is the session tick: it increments the scope's session
// counter, always runs the light promotion pass for the ended session, runs
// full consolidation plus graph pruning every Nth session, and strategy
// adaptation plus self-reflection every Mth session.
func (s *Scheduler) OnSessionEnd(ctx context.Context, scope types.Scope, sessionID string) (*RunReport, error) {
	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.loadState(ctx, scope)
	if err != nil {
		return nil, err
	}
	state.SessionCount++
	if err := s.store.PutState(ctx, state); err != nil {
		return nil, fmt.Errorf("session tick: %w", err)
	}

	now := s.now()
	report := &RunReport{
		ID:           newReportID(),
		Scope:        scope,
		Mode:         string(ModeLight),
		StartedAt:    now,
		SessionCount: state.SessionCount,
	}

	// Light promotion pass, paced to stay inside the tick latency budget.
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := s.consolidator.PromoteSessionToProject(ctx, sessionID, now, report); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}

	if state.SessionCount%s.cfg.FullConsolidationEvery == 0 {
		report.Mode = string(ModeFull)
		s.runFull(ctx, scope, now, report)
		state.LastConsolidation = &now
	}

	if state.SessionCount%s.cfg.ReflectionEvery == 0 {
		report.Mode = string(ModeReflect)
		s.runReflect(ctx, scope, now, report)
		state.LastAdaptation = &now
		state.LastReflection = &now
	}

	if err := s.store.PutState(ctx, state); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("persist state: %v", err))
	}

	return s.finishRun(ctx, report)
}

// RunMaintenance runs the pipeline unconditionally at the requested depth,
// regardless of session cadence. Light mode promotes eligible memories from
// every session in the scope.
func (s *Scheduler) RunMaintenance(ctx context.Context, scope types.Scope, mode MaintenanceMode) (*RunReport, error) {
	switch mode {
	case ModeLight, ModeFull, ModeReflect:
	default:
		return nil, fmt.Errorf("%w: unknown maintenance mode %q", storage.ErrInvalidInput, mode)
	}

	lock := s.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.loadState(ctx, scope)
	if err != nil {
		return nil, err
	}

	now := s.now()
	report := &RunReport{
		ID:           newReportID(),
		Scope:        scope,
		Mode:         string(mode),
		StartedAt:    now,
		SessionCount: state.SessionCount,
	}

	// Empty session ID promotes across all sessions in the scope.
	if err := s.consolidator.PromoteSessionToProject(ctx, "", now, report); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}

	if mode == ModeFull || mode == ModeReflect {
		s.runFull(ctx, scope, now, report)
		state.LastConsolidation = &now
	}
	if mode == ModeReflect {
		s.runReflect(ctx, scope, now, report)
		state.LastAdaptation = &now
		state.LastReflection = &now
	}

	if err := s.store.PutState(ctx, state); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("persist state: %v", err))
	}

	return s.finishRun(ctx, report)
}

// runFull executes the heavyweight passes in fixed order: lifecycle sweep,
// episodic group discovery, queue draining, contradiction detection, graph
// pruning. A later step observes writes from earlier steps in the same run.
func (s *Scheduler) runFull(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) {
	if err := s.lifecycle.Sweep(ctx, scope, now, report); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}
	if err := s.consolidator.DiscoverEpisodicGroups(ctx, scope, now); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}
	if err := s.consolidator.DrainQueue(ctx, scope, now, report); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}

	entities, err := s.store.ListEntities(ctx, scope, "")
	if err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("list entities: %v", err))
	} else {
		for _, entity := range entities {
			if err := s.graph.DetectContradictions(ctx, entity.ID, now, report); err != nil {
				report.Failures = append(report.Failures, err.Error())
			}
		}
	}

	if err := s.graph.Prune(ctx, scope, now, report); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}
}

// runReflect executes strategy adaptation followed by self-reflection.
func (s *Scheduler) runReflect(ctx context.Context, scope types.Scope, now time.Time, report *RunReport) {
	if err := s.strategy.Adapt(ctx, scope, now, report); err != nil {
		report.Failures = append(report.Failures, err.Error())
	}
	s.reflector.Reflect(ctx, scope, now, report)
}

// finishRun stamps the duration and persists the report. The report is
// returned even when persisting it fails: a partial report always beats a
// silent no-op.
func (s *Scheduler) finishRun(ctx context.Context, report *RunReport) (*RunReport, error) {
	report.Duration = s.now().Sub(report.StartedAt)
	if err := s.store.AppendRunReport(ctx, report); err != nil {
		s.logger.Warn("failed to persist run report", zap.String("report_id", report.ID), zap.Error(err))
	}
	s.logger.Info("maintenance run finished",
		zap.String("scope", string(report.Scope)),
		zap.String("mode", report.Mode),
		zap.Int("merges", report.Merges),
		zap.Int("promotions", report.Promotions),
		zap.Int("consolidations", report.Consolidations),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// loadState returns the scope's evolution state, initializing it on first
// use.
func (s *Scheduler) loadState(ctx context.Context, scope types.Scope) (*types.EvolutionState, error) {
	state, err := s.store.GetState(ctx, scope)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			state = &types.EvolutionState{Scope: scope}
			if putErr := s.store.PutState(ctx, state); putErr != nil {
				return nil, fmt.Errorf("init evolution state: %w", putErr)
			}
			return state, nil
		}
		return nil, fmt.Errorf("load evolution state: %w", err)
	}
	return state, nil
}
