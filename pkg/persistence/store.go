// Package persistence provides SQLite-backed storage for conversations,
// customer tokens, and quantity-increment rules.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"shopassist/pkg/logx"
)

// CurrentSchemaVersion is bumped whenever the schema changes; Open runs
// migrations from the stored version up to this one.
const CurrentSchemaVersion = 2

// Store owns the database handle. All stores hang off it.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if necessary) the database at path and brings the
// schema up to date. Idempotent and safe to call at every startup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("📦 database ready: %s (schema v%d)", path, CurrentSchemaVersion)
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	version, err := s.schemaVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, CurrentSchemaVersion)
	}
	for v := version + 1; v <= CurrentSchemaVersion; v++ {
		if err := s.runMigration(v); err != nil {
			return fmt.Errorf("migration to v%d failed: %w", v, err)
		}
		if err := s.setSchemaVersion(v); err != nil {
			return fmt.Errorf("failed to record schema v%d: %w", v, err)
		}
		s.logger.Debug("applied schema migration v%d", v)
	}
	return nil
}

func (s *Store) schemaVersion() (int, error) {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, err
	}
	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return version, err
}

func (s *Store) setSchemaVersion(version int) error {
	res, err := s.db.Exec(`UPDATE schema_version SET version = ?`, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version)
	}
	return err
}

func (s *Store) runMigration(version int) error {
	switch version {
	case 1:
		_, err := s.db.Exec(`
			CREATE TABLE conversations (
				id         TEXT PRIMARY KEY,
				channel    TEXT NOT NULL,
				metadata   TEXT NOT NULL DEFAULT '{}',
				archived   INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE messages (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				role            TEXT NOT NULL,
				content         TEXT NOT NULL,
				created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX idx_messages_conversation ON messages(conversation_id, id);

			CREATE TABLE customer_tokens (
				conversation_id TEXT PRIMARY KEY,
				access_token    TEXT NOT NULL,
				expires_at      TIMESTAMP,
				updated_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
		`)
		return err
	case 2:
		_, err := s.db.Exec(`
			CREATE TABLE increment_rules (
				entity_id   TEXT PRIMARY KEY,
				entity_type TEXT NOT NULL CHECK (entity_type IN ('product', 'variant')),
				title       TEXT NOT NULL DEFAULT '',
				increment   INTEGER NOT NULL CHECK (increment >= 1)
			);
			CREATE INDEX idx_increment_rules_title ON increment_rules(title);
		`)
		return err
	default:
		return fmt.Errorf("unknown schema version %d", version)
	}
}
