package dbpool

import (
	"context"
	"fmt"

	"github.com/athena-core/memory/internal/erring"
)

// CurrentSchemaVersion is bumped whenever a migration is appended, mirroring
// the teacher's internal/store/migrations.go versioning scheme.
const CurrentSchemaVersion = 1

var bootstrapTables = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,

	`CREATE TABLE IF NOT EXISTS episodic_events (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		session_id TEXT,
		source_id TEXT,
		event_type TEXT NOT NULL,
		content TEXT NOT NULL,
		structured_context TEXT,
		content_hash BLOB NOT NULL,
		embedding BLOB,
		timestamp DATETIME NOT NULL,
		lifecycle TEXT NOT NULL DEFAULT 'active',
		importance REAL NOT NULL DEFAULT 0,
		actionability REAL NOT NULL DEFAULT 0,
		context_completeness REAL NOT NULL DEFAULT 0,
		causality_parent TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_project_hash ON episodic_events(project_id, content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_events_project_ts ON episodic_events(project_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_lifecycle ON episodic_events(project_id, lifecycle)`,

	`CREATE TABLE IF NOT EXISTS event_hashes (
		project_id TEXT NOT NULL,
		content_hash BLOB NOT NULL,
		first_seen_at DATETIME NOT NULL,
		PRIMARY KEY (project_id, content_hash)
	)`,

	`CREATE TABLE IF NOT EXISTS semantic_memories (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		memory_type TEXT NOT NULL,
		provenance TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		consolidation_state TEXT NOT NULL DEFAULT 'unconsolidated',
		last_accessed DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_semantic_project ON semantic_memories(project_id)`,

	`CREATE TABLE IF NOT EXISTS procedures (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		category TEXT,
		version INTEGER NOT NULL,
		steps TEXT,
		trigger_pattern TEXT,
		execution_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		last_executed DATETIME,
		effectiveness REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_proc_project_name_version ON procedures(project_id, name, version)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		parent_id TEXT,
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		priority INTEGER NOT NULL DEFAULT 5,
		phase TEXT NOT NULL DEFAULT 'planning',
		triggers TEXT,
		dependencies TEXT,
		deadline DATETIME,
		progress REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_priority_deadline ON tasks(status, priority, deadline)`,

	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		description TEXT,
		properties TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project_id)`,

	`CREATE TABLE IF NOT EXISTS relations (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		from_entity TEXT NOT NULL,
		to_entity TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 0,
		temporal_start DATETIME,
		temporal_end DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_relations_unique_edge ON relations(project_id, from_entity, to_entity, relation_type)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_from_type ON relations(from_entity, relation_type)`,

	`CREATE TABLE IF NOT EXISTS communities (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 0,
		member_entities TEXT,
		summary TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_communities_project ON communities(project_id)`,

	`CREATE TABLE IF NOT EXISTS meta_records (
		subject_kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		compression REAL NOT NULL DEFAULT 0,
		recall REAL NOT NULL DEFAULT 0,
		consistency REAL NOT NULL DEFAULT 0,
		attention_weight REAL NOT NULL DEFAULT 0,
		last_evaluated DATETIME,
		PRIMARY KEY (subject_kind, subject_id)
	)`,

	`CREATE TABLE IF NOT EXISTS working_memory_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		content TEXT NOT NULL,
		component TEXT NOT NULL,
		activation REAL NOT NULL,
		decay_rate REAL NOT NULL,
		importance REAL NOT NULL,
		last_accessed DATETIME NOT NULL,
		embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wm_project ON working_memory_items(project_id)`,

	`CREATE TABLE IF NOT EXISTS session_contexts (
		session_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		task TEXT,
		phase TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		event_ids TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS ingestion_cursors (
		source_id TEXT PRIMARY KEY,
		cursor_blob BLOB,
		updated_at DATETIME NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS decision_records (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		gates_run TEXT,
		violations TEXT,
		confidence REAL NOT NULL,
		outcome TEXT,
		correct INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_operation_ts ON decision_records(operation, timestamp)`,
}

// migration is one versioned schema change applied after bootstrap, mirroring
// the teacher's Migration{Table,Column,Def} shape.
type migration struct {
	version int
	stmt    string
}

// pendingMigrations holds changes introduced after the initial bootstrap.
// Empty at v1; future schema changes are appended here with an incremented
// version, never by editing bootstrapTables.
var pendingMigrations = []migration{}

func (p *Pool) bootstrap() error {
	ctx := context.Background()
	for _, stmt := range bootstrapTables {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return erring.New(erring.CodeSchemaMismatch, "dbpool.bootstrap", "failed applying bootstrap schema", fmt.Errorf("%s: %w", stmt, err))
		}
	}

	var count int
	row := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`)
	if err := row.Scan(&count); err != nil {
		return erring.SchemaMismatch("dbpool.bootstrap", CurrentSchemaVersion, 0)
	}
	if count == 0 {
		if _, err := p.db.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return erring.BackendUnavailable("dbpool.bootstrap", err)
		}
	}

	var version int
	if err := p.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return erring.BackendUnavailable("dbpool.bootstrap", err)
	}

	for _, m := range pendingMigrations {
		if m.version <= version {
			continue
		}
		if _, err := p.db.ExecContext(ctx, m.stmt); err != nil {
			return erring.New(erring.CodeSchemaMismatch, "dbpool.bootstrap", "migration failed", err)
		}
		if _, err := p.db.ExecContext(ctx, `UPDATE schema_version SET version = ?`, m.version); err != nil {
			return erring.BackendUnavailable("dbpool.bootstrap", err)
		}
		version = m.version
	}

	return nil
}
