// Package postgres provides a PostgreSQL implementation of the storage
// interfaces, with pgvector-accelerated similarity search when the vector
// extension is available.
package postgres

// Schema contains the SQL statements to create the database schema.
// All statements are idempotent (IF NOT EXISTS) so the schema can be
// applied on every startup. Embeddings are stored as BYTEA (little-endian
// float32); the pgvector migration adds a parallel vector column used for
// accelerated search.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    content TEXT NOT NULL DEFAULT '',
    memory_type TEXT NOT NULL,
    scope TEXT NOT NULL,
    session_id TEXT,
    tags JSONB,
    metadata JSONB,
    embedding BYTEA,

    importance REAL NOT NULL DEFAULT 0,
    relevance_score REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    outcome_impact REAL NOT NULL DEFAULT 0,
    user_feedback REAL NOT NULL DEFAULT 0,

    access_count INTEGER NOT NULL DEFAULT 0,
    last_accessed_at TIMESTAMPTZ,

    status TEXT NOT NULL DEFAULT 'created',
    status_history JSONB,

    source_ids JSONB,
    promoted_from TEXT,
    source_sessions JSONB,

    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_id);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_tags ON memories USING GIN(tags);

CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    type TEXT NOT NULL,
    description TEXT,
    scope TEXT NOT NULL,
    embedding BYTEA,

    mention_count INTEGER NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,
    first_seen TIMESTAMPTZ NOT NULL,
    last_seen TIMESTAMPTZ NOT NULL,

    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_entities_scope_type ON entities(scope, type);

CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    type TEXT NOT NULL,
    scope TEXT NOT NULL,

    weight REAL NOT NULL DEFAULT 0,
    confidence REAL NOT NULL DEFAULT 0,

    valid_from TIMESTAMPTZ NOT NULL,
    invalid_at TIMESTAMPTZ,
    evidence JSONB,

    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_id);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_id);

CREATE TABLE IF NOT EXISTS consolidation_queue (
    id TEXT PRIMARY KEY,
    reason TEXT NOT NULL,
    memory_ids JSONB,
    topic_tag TEXT,
    scope TEXT NOT NULL,
    enqueued_at TIMESTAMPTZ NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_queue_scope ON consolidation_queue(scope, enqueued_at);

CREATE TABLE IF NOT EXISTS contradictions (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    edge_ids JSONB,
    types JSONB,
    scope TEXT NOT NULL,
    detected_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS retrieval_logs (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    query_type TEXT NOT NULL,
    strategy TEXT NOT NULL,
    results_returned INTEGER NOT NULL DEFAULT 0,
    results_used INTEGER NOT NULL DEFAULT 0,
    feedback TEXT,
    latency_ms BIGINT NOT NULL DEFAULT 0,
    timestamp TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retrieval_scope_ts ON retrieval_logs(scope, timestamp);

CREATE TABLE IF NOT EXISTS strategy_weights (
    scope TEXT NOT NULL,
    query_type TEXT NOT NULL,
    vector_weight REAL NOT NULL,
    keyword_weight REAL NOT NULL,
    graph_weight REAL NOT NULL,
    samples INTEGER NOT NULL DEFAULT 0,
    stable_runs INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (scope, query_type)
);

CREATE TABLE IF NOT EXISTS run_reports (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    mode TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    session_count INTEGER NOT NULL DEFAULT 0,
    report JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_scope_started ON run_reports(scope, started_at);

CREATE TABLE IF NOT EXISTS evolution_state (
    scope TEXT PRIMARY KEY,
    session_count INTEGER NOT NULL DEFAULT 0,
    last_consolidation TIMESTAMPTZ,
    last_reflection TIMESTAMPTZ,
    last_adaptation TIMESTAMPTZ
);
`

// MigrationPgvector adds vector columns for accelerated similarity search.
// Only applied when the vector extension is available. Safe to run multiple
// times: column adds are guarded by information_schema checks.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'memories' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE memories ADD COLUMN embedding_vec vector;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'entities' AND column_name = 'embedding_vec'
    ) THEN
        ALTER TABLE entities ADD COLUMN embedding_vec vector;
    END IF;
END
$$;
`
