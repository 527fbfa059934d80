// Package store persists registries (agents, hotkeys, MCP servers,
// projects) in a SQLite database.
package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"termdock/internal/pubsub"
)

// CurrentVersion is the current schema version.
const CurrentVersion = 1

// Store wraps the registry database.
type Store struct {
	db  *sql.DB
	bus *pubsub.Publisher
}

// Open opens (and migrates) the registry database at path. Use ":memory:"
// for tests.
func Open(path string, bus *pubsub.Publisher) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, bus: bus}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER NOT NULL,
			applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}

	var version int
	err = tx.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("query schema version: %w", err)
	}
	if version >= CurrentVersion {
		return tx.Commit()
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id    TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			command     TEXT NOT NULL,
			args        TEXT,
			description TEXT,
			created_at  TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS hotkeys (
			hotkey_id TEXT PRIMARY KEY,
			chord     TEXT NOT NULL UNIQUE,
			op        TEXT NOT NULL,
			params    TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS mcp_servers (
			server_id TEXT PRIMARY KEY,
			name      TEXT NOT NULL UNIQUE,
			transport TEXT NOT NULL,
			command   TEXT,
			args      TEXT,
			url       TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			project_id  TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			path        TEXT NOT NULL UNIQUE,
			last_opened TEXT,
			active      INTEGER DEFAULT 0
		)`,
	}
	for _, ddl := range tables {
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_agents_name ON agents(name)",
		"CREATE INDEX IF NOT EXISTS idx_projects_active ON projects(active)",
	}
	for _, ddl := range indexes {
		if _, err := tx.Exec(ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// newID generates a prefixed ULID, e.g. newID("agt") -> "agt_01H...".
func newID(prefix string) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}
