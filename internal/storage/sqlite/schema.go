// Package sqlite provides the SQLite reference implementation of the
// storage interfaces. It is the default backend: a single local file, no
// server, embeddings stored as little-endian float32 blobs with cosine
// similarity computed in Go.
package sqlite

// Schema contains the SQL statements creating the database schema. All
// statements are idempotent so re-running on an existing database is safe.
const Schema = `
-- Memories: the core lifecycle records.
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL DEFAULT '',
    memory_type TEXT NOT NULL,
    scope TEXT NOT NULL,
    session_id TEXT,
    tags TEXT,
    metadata TEXT,
    embedding BLOB,

    -- Scoring inputs. Importance is the stored composite; strength is
    -- always derived at read time and never persisted.
    importance REAL NOT NULL DEFAULT 0,
    relevance_score REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    outcome_impact REAL NOT NULL DEFAULT 0,
    user_feedback REAL NOT NULL DEFAULT 0,

    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMP,

    status TEXT NOT NULL DEFAULT 'created',
    status_history TEXT,

    -- Provenance.
    source_ids TEXT,
    promoted_from TEXT,
    source_sessions TEXT,

    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_scope_status ON memories(scope, status);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);

-- Entities: nodes of the derived knowledge graph.
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    description TEXT,
    scope TEXT NOT NULL,
    embedding BLOB,
    mention_count INTEGER NOT NULL DEFAULT 1,
    confidence REAL NOT NULL DEFAULT 0,
    first_seen TIMESTAMP NOT NULL,
    last_seen TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entities_scope_type ON entities(scope, type);

-- Relationships: directed typed edges. Soft invalidation via invalid_at.
CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    type TEXT NOT NULL,
    scope TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 0.5,
    confidence REAL NOT NULL DEFAULT 0.5,
    valid_from TIMESTAMP NOT NULL,
    invalid_at TIMESTAMP,
    evidence TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);

-- Consolidation queue: pending merge/summarize work.
CREATE TABLE IF NOT EXISTS consolidation_queue (
    id TEXT PRIMARY KEY,
    reason TEXT NOT NULL,
    memory_ids TEXT NOT NULL,
    topic_tag TEXT,
    scope TEXT NOT NULL,
    enqueued_at TIMESTAMP NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_consolidation_scope ON consolidation_queue(scope, enqueued_at);

-- Contradictions: opposing edge pairs surfaced for external review.
CREATE TABLE IF NOT EXISTS contradictions (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    edge_ids TEXT NOT NULL,
    types TEXT NOT NULL,
    scope TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_contradictions_scope ON contradictions(scope);

-- Retrieval logs: immutable, append-only.
CREATE TABLE IF NOT EXISTS retrieval_logs (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    query_type TEXT NOT NULL,
    strategy TEXT NOT NULL,
    results_returned INTEGER NOT NULL DEFAULT 0,
    results_used INTEGER NOT NULL DEFAULT 0,
    feedback TEXT,
    latency_ms INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retrieval_logs_scope_ts ON retrieval_logs(scope, timestamp);

-- Strategy weights: one row per (scope, query_type).
CREATE TABLE IF NOT EXISTS strategy_weights (
    scope TEXT NOT NULL,
    query_type TEXT NOT NULL,
    vector_weight REAL NOT NULL,
    keyword_weight REAL NOT NULL,
    graph_weight REAL NOT NULL,
    samples INTEGER NOT NULL DEFAULT 0,
    stable_runs INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (scope, query_type)
);

-- Run reports: one row per maintenance run.
CREATE TABLE IF NOT EXISTS run_reports (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    mode TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    session_count INTEGER NOT NULL DEFAULT 0,
    report TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_reports_scope_started ON run_reports(scope, started_at);

-- Evolution state: per-scope cadence counters.
CREATE TABLE IF NOT EXISTS evolution_state (
    scope TEXT PRIMARY KEY,
    session_count INTEGER NOT NULL DEFAULT 0,
    last_consolidation TIMESTAMP,
    last_reflection TIMESTAMP,
    last_adaptation TIMESTAMP
);
`
