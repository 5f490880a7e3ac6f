package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the persistent mail store backed by a local SQLite
// database. All mutating operations are transactional; WAL mode gives
// readers a consistent snapshot while the single writer commits.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, wrapErr("open", err)
	}

	// The modernc driver serializes writes; a single writer connection
	// avoids spurious SQLITE_BUSY between our own transactions.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, wrapErr("enable WAL", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, wrapErr("enable foreign keys", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order. A database written by a newer binary
// fails with an incompatible-schema error.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return wrapErr("check schema_version table", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return wrapErr("read schema version", err)
		}
	}

	latest := migrations[len(migrations)-1].version
	if currentVersion > latest {
		return &Error{
			Kind: KindIncompatible,
			Op:   "migrate",
			Err:  fmt.Errorf("database schema v%d is newer than supported v%d", currentVersion, latest),
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return wrapErr(fmt.Sprintf("apply migration v%d", m.version), err)
		}
	}

	return nil
}

// exec runs a statement, retrying once on transient lock contention.
func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if isBusy(err) {
		res, err = s.db.ExecContext(ctx, query, args...)
	}
	return res, err
}

// marshalJSON encodes v for storage in a TEXT column.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling for storage: %w", err)
	}
	return string(b), nil
}

// unmarshalJSON decodes a TEXT column into v, treating the empty string as
// absent.
func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("unmarshaling stored value: %w", err)
	}
	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
