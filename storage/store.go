// Package storage provides the SQLite persistence layer: workflows, phase
// executions, the citation ledger, gap closure events, checkpoints, and the
// violation audit log. The engine requires atomic single-row updates;
// workflow rows carry a version column for optimistic locking.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the database handle and exposes the per-table repositories.
type Store struct {
	db *sql.DB

	Workflows   *WorkflowRepo
	Phases      *PhaseExecutionRepo
	Citations   *CitationRepo
	Gaps        *GapEventRepo
	Checkpoints *CheckpointRepo
	Violations  *ViolationRepo
}

// Open opens (creating if needed) the SQLite database at path and runs
// pending migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newStore(db), nil
}

// OpenInMemory opens a private in-memory database, used by tests.
func OpenInMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return newStore(db), nil
}

func newStore(db *sql.DB) *Store {
	return &Store{
		db:          db,
		Workflows:   &WorkflowRepo{db: db},
		Phases:      &PhaseExecutionRepo{db: db},
		Citations:   &CitationRepo{db: db},
		Gaps:        &GapEventRepo{db: db},
		Checkpoints: &CheckpointRepo{db: db},
		Violations:  &ViolationRepo{db: db},
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migration is one schema change, applied in version order exactly once.
type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		up: `
CREATE TABLE workflows (
	id               TEXT PRIMARY KEY,
	order_id         TEXT NOT NULL,
	path             TEXT NOT NULL,
	tier             TEXT NOT NULL,
	current_phase    REAL NOT NULL,
	status           TEXT NOT NULL,
	error_count      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT,
	citation_count   INTEGER NOT NULL DEFAULT 0,
	quality_score    REAL NOT NULL DEFAULT 0,
	blocked_reason   TEXT,
	metadata         TEXT,
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	last_activity_at DATETIME NOT NULL
);
CREATE INDEX idx_workflows_order ON workflows(order_id);
CREATE INDEX idx_workflows_status ON workflows(status);

CREATE TABLE phase_executions (
	id              TEXT PRIMARY KEY,
	workflow_id     TEXT NOT NULL REFERENCES workflows(id),
	phase_number    REAL NOT NULL,
	phase_code      TEXT NOT NULL,
	status          TEXT NOT NULL,
	input           TEXT,
	output          TEXT,
	quality_score   REAL,
	requires_review INTEGER NOT NULL DEFAULT 0,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	error_message   TEXT,
	started_at      DATETIME NOT NULL,
	completed_at    DATETIME,
	UNIQUE(workflow_id, phase_number)
);
CREATE INDEX idx_phase_executions_workflow ON phase_executions(workflow_id);

CREATE TABLE citations (
	id                 TEXT PRIMARY KEY,
	workflow_id        TEXT NOT NULL REFERENCES workflows(id),
	phase_execution_id TEXT,
	raw_text           TEXT NOT NULL,
	volume             TEXT,
	reporter           TEXT,
	page               TEXT,
	court              TEXT,
	year               INTEGER,
	class              TEXT,
	status             TEXT NOT NULL,
	confidence         REAL NOT NULL DEFAULT 0,
	authority          TEXT,
	corrected_text     TEXT,
	verified_at        DATETIME,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);
CREATE INDEX idx_citations_workflow ON citations(workflow_id);
CREATE INDEX idx_citations_status ON citations(workflow_id, status);

CREATE TABLE citation_log (
	id          TEXT PRIMARY KEY,
	citation_id TEXT NOT NULL REFERENCES citations(id),
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	note        TEXT,
	at          DATETIME NOT NULL
);

CREATE TABLE gap_events (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL REFERENCES workflows(id),
	protocol     TEXT NOT NULL,
	phase_code   TEXT NOT NULL,
	context      TEXT,
	state        TEXT NOT NULL,
	action_taken TEXT,
	created_at   DATETIME NOT NULL,
	resolved_at  DATETIME
);
CREATE INDEX idx_gap_events_workflow ON gap_events(workflow_id);

CREATE TABLE checkpoints (
	id              TEXT PRIMARY KEY,
	workflow_id     TEXT NOT NULL REFERENCES workflows(id),
	checkpoint_code TEXT NOT NULL,
	blocking        INTEGER NOT NULL DEFAULT 0,
	state           TEXT NOT NULL,
	resolution      TEXT,
	note            TEXT,
	created_at      DATETIME NOT NULL,
	resolved_at     DATETIME
);
CREATE INDEX idx_checkpoints_workflow ON checkpoints(workflow_id);

CREATE TABLE violations (
	id              TEXT PRIMARY KEY,
	workflow_id     TEXT NOT NULL,
	severity        TEXT NOT NULL,
	attempted_phase REAL,
	reason          TEXT NOT NULL,
	resolved        INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL
);
CREATE INDEX idx_violations_workflow ON violations(workflow_id);
`,
	},
}

// migrate applies pending migrations in order.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
