package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/rosterd/internal/contact"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial UNIQUE index on contacts(sync_target, origin_id)
const currentSchemaVersion = 1

const metaSelfID = "self_contact_id"

// Store provides durable storage for contact records.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db            *sql.DB
	ids           contact.IDGenerator
	now           func() time.Time
	autoAggregate bool
	selfID        contact.ID
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for record and attribute ids.
func WithIDGenerator(g contact.IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithClock sets the time source for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithAutoAggregate makes the store create an aggregate record, and the
// relationship to it, for every new non-aggregate record it saves. This
// mirrors backends that aggregate on their own.
func WithAutoAggregate(enabled bool) Option {
	return func(s *Store) { s.autoAggregate = enabled }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically, and creates the
// local self record on first open.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		ids: contact.UUIDv7Generator{},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A single connection also keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	if err := s.ensureSelf(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create self contact: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SelfContactID returns the id of the local "me" record.
func (s *Store) SelfContactID(ctx context.Context) (contact.ID, error) {
	if s.selfID != "" {
		return s.selfID, nil
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaSelfID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("self contact id: %w", err)
	}
	s.selfID = contact.ID(id)
	return s.selfID, nil
}

// ensureSelf creates the self record the first time a database is opened.
func (s *Store) ensureSelf(ctx context.Context) error {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaSelfID).Scan(&id)
	if err == nil {
		s.selfID = contact.ID(id)
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	id = s.ids.Generate()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contacts (id, sync_target, is_self, updated_at)
		VALUES (?, ?, 1, ?)
	`, id, contact.SyncTargetLocal, s.timestamp()); err != nil {
		return fmt.Errorf("insert self: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, metaSelfID, id); err != nil {
		return fmt.Errorf("record self id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.selfID = contact.ID(id)
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 makes a provider address unique within its sync target.
// Records without an origin are exempt.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_origin_unique
		ON contacts(sync_target, origin_id)
		WHERE origin_id IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
