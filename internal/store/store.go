package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - kv table with per-key version
const currentSchemaVersion = 1

// SQLite is the file-backed KV implementation.
// Uses SQLite with WAL mode for concurrent read access.
type SQLite struct {
	db *sql.DB
}

var _ KV = (*SQLite)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - immediate transactions, so Set takes the write lock before it reads
//     the version it checks
//
// ":memory:" opens a private in-memory database, used by the scenario
// harness and tests. This function is idempotent.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, and an in-memory database
	// only exists on its own connection, so keep exactly one.
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

	return &SQLite{db: db}, nil
}

// dsn adds the connection parameters that must hold on every connection the
// pool opens, not just the first one the pragmas ran on.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Health pings the database.
func (s *SQLite) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the value stored at key, or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) (Value, error) {
	var (
		v       Value
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT value, version, updated_at FROM kv WHERE key = ?
	`, key).Scan(&v.Data, &v.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Value{}, ErrNotFound
	}
	if err != nil {
		return Value{}, fmt.Errorf("get %s: %w", key, err)
	}
	if v.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return Value{}, fmt.Errorf("get %s: parse updated_at: %w", key, err)
	}
	return v, nil
}

// Set writes data at key after checking expect against the stored version.
// The read and the write happen in one immediate transaction. A write lock
// still held by another process after the busy timeout is reported as
// ErrVersionConflict, so callers reload and retry instead of failing.
func (s *SQLite) Set(ctx context.Context, key string, data []byte, expect int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("set %s: begin tx: %w", key, busyConflict(err))
	}
	defer tx.Rollback() // No-op if committed

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM kv WHERE key = ?`, key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("set %s: read version: %w", key, err)
	}
	if err := checkVersion(current, expect); err != nil {
		return 0, fmt.Errorf("set %s: expected version %d, found %d: %w", key, expect, current, err)
	}

	next := current + 1
	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = excluded.version,
			updated_at = excluded.updated_at
	`, key, data, next, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("set %s: write: %w", key, busyConflict(err))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("set %s: commit: %w", key, busyConflict(err))
	}
	return next, nil
}

// busyConflict marks lock contention as a version conflict and leaves every
// other error alone.
func busyConflict(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	}
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix, ordered by key.
func (s *SQLite) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE substr(key, 1, ?) = ?
		ORDER BY key COLLATE BINARY ASC
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. Databases written by a newer build are refused.
func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if !strings.EqualFold(value, expected) {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
