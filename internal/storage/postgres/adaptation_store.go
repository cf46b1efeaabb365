package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/baladithyab/engram-sub001/internal/storage"
	"github.com/baladithyab/engram-sub001/pkg/types"
)

// AppendRetrievalLog writes one retrieval record.
func (s *Store) AppendRetrievalLog(ctx context.Context, log *types.RetrievalLog) error {
	if log == nil || log.ID == "" {
		return fmt.Errorf("%w: retrieval log ID is required", storage.ErrInvalidInput)
	}
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retrieval_logs (id, scope, query_type, strategy, results_returned, results_used, feedback, latency_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		log.ID,
		string(log.Scope),
		log.QueryType,
		string(log.Strategy),
		log.ResultsReturned,
		log.ResultsUsed,
		nullableString(log.Feedback),
		log.LatencyMS,
		log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to append retrieval log: %w", err)
	}
	return nil
}

// RetrievalWindow returns logs for a scope with timestamps at or after
// since, oldest first.
func (s *Store) RetrievalWindow(ctx context.Context, scope types.Scope, since time.Time) ([]*types.RetrievalLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope, query_type, strategy, results_returned, results_used, feedback, latency_ms, timestamp
		FROM retrieval_logs
		WHERE scope = $1 AND timestamp >= $2
		ORDER BY timestamp, id`,
		string(scope), since)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query retrieval window: %w", err)
	}
	defer rows.Close()

	var logs []*types.RetrievalLog
	for rows.Next() {
		var log types.RetrievalLog
		var logScope, strategy string
		var feedback sql.NullString

		if err := rows.Scan(&log.ID, &logScope, &log.QueryType, &strategy,
			&log.ResultsReturned, &log.ResultsUsed, &feedback, &log.LatencyMS, &log.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan retrieval log: %w", err)
		}
		log.Scope = types.Scope(logScope)
		log.Strategy = types.RetrievalStrategy(strategy)
		log.Feedback = feedback.String
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to query retrieval window: %w", err)
	}
	return logs, nil
}

// GetWeights returns the weights row for a (scope, query type) key.
func (s *Store) GetWeights(ctx context.Context, scope types.Scope, queryType string) (*types.StrategyWeights, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scope, query_type, vector_weight, keyword_weight, graph_weight, samples, stable_runs, updated_at
		FROM strategy_weights
		WHERE scope = $1 AND query_type = $2`,
		string(scope), queryType)

	var weights types.StrategyWeights
	var weightsScope string
	err := row.Scan(&weightsScope, &weights.QueryType, &weights.Vector, &weights.Keyword,
		&weights.Graph, &weights.Samples, &weights.StableRuns, &weights.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get weights: %w", err)
	}
	weights.Scope = types.Scope(weightsScope)
	return &weights, nil
}

// PutWeights upserts the weights row for its key.
func (s *Store) PutWeights(ctx context.Context, weights *types.StrategyWeights) error {
	if weights == nil || weights.QueryType == "" {
		return fmt.Errorf("%w: weights query type is required", storage.ErrInvalidInput)
	}
	if weights.UpdatedAt.IsZero() {
		weights.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strategy_weights (scope, query_type, vector_weight, keyword_weight, graph_weight, samples, stable_runs, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT(scope, query_type) DO UPDATE SET
			vector_weight = excluded.vector_weight,
			keyword_weight = excluded.keyword_weight,
			graph_weight = excluded.graph_weight,
			samples = excluded.samples,
			stable_runs = excluded.stable_runs,
			updated_at = excluded.updated_at`,
		string(weights.Scope),
		weights.QueryType,
		weights.Vector,
		weights.Keyword,
		weights.Graph,
		weights.Samples,
		weights.StableRuns,
		weights.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to put weights: %w", err)
	}
	return nil
}

// AppendRunReport writes one maintenance run report. Counters beyond the
// indexed columns are stored as a JSONB document.
func (s *Store) AppendRunReport(ctx context.Context, report *types.RunReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: run report ID is required", storage.ErrInvalidInput)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("postgres: failed to marshal run report: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO run_reports (id, scope, mode, started_at, duration_ms, session_count, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID,
		string(report.Scope),
		report.Mode,
		report.StartedAt,
		report.Duration.Milliseconds(),
		report.SessionCount,
		body,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to append run report: %w", err)
	}
	return nil
}

// RecentRunReports returns the most recent run reports for a scope, newest
// first, up to limit.
func (s *Store) RecentRunReports(ctx context.Context, scope types.Scope, limit int) ([]*types.RunReport, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT report FROM run_reports
		WHERE scope = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2`,
		string(scope), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query run reports: %w", err)
	}
	defer rows.Close()

	var reports []*types.RunReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan run report: %w", err)
		}
		var report types.RunReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, fmt.Errorf("postgres: failed to unmarshal run report: %w", err)
		}
		reports = append(reports, &report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: failed to query run reports: %w", err)
	}
	return reports, nil
}

// GetState returns the evolution state for a scope.
func (s *Store) GetState(ctx context.Context, scope types.Scope) (*types.EvolutionState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT scope, session_count, last_consolidation, last_reflection, last_adaptation
		FROM evolution_state
		WHERE scope = $1`,
		string(scope))

	var state types.EvolutionState
	var stateScope string
	var lastConsolidation, lastReflection, lastAdaptation sql.NullTime
	err := row.Scan(&stateScope, &state.SessionCount, &lastConsolidation, &lastReflection, &lastAdaptation)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get evolution state: %w", err)
	}

	state.Scope = types.Scope(stateScope)
	state.LastConsolidation = timePtr(lastConsolidation)
	state.LastReflection = timePtr(lastReflection)
	state.LastAdaptation = timePtr(lastAdaptation)
	return &state, nil
}

// PutState upserts the evolution state for its scope.
func (s *Store) PutState(ctx context.Context, state *types.EvolutionState) error {
	if state == nil || state.Scope == "" {
		return fmt.Errorf("%w: state scope is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evolution_state (scope, session_count, last_consolidation, last_reflection, last_adaptation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(scope) DO UPDATE SET
			session_count = excluded.session_count,
			last_consolidation = excluded.last_consolidation,
			last_reflection = excluded.last_reflection,
			last_adaptation = excluded.last_adaptation`,
		string(state.Scope),
		state.SessionCount,
		nullableTime(state.LastConsolidation),
		nullableTime(state.LastReflection),
		nullableTime(state.LastAdaptation),
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to put evolution state: %w", err)
	}
	return nil
}
