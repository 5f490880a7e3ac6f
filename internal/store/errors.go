package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies store failures so callers can distinguish
// recoverable conditions (missing row, duplicate key) from damage.
type ErrorKind string

const (
	// KindIo is an underlying database or filesystem failure.
	KindIo ErrorKind = "io"

	// KindCorrupt means the database file is damaged or not a database.
	KindCorrupt ErrorKind = "corrupt"

	// KindIncompatible means the schema was written by a newer binary.
	KindIncompatible ErrorKind = "incompatible"

	// KindNotFound means the addressed row does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindConflict means a uniqueness constraint rejected the write.
	KindConflict ErrorKind = "conflict"
)

// Error is a tagged store failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a missing-row failure.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// IsConflict reports whether err is a uniqueness-constraint failure.
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindConflict
}

// notFound builds a missing-row error for op.
func notFound(op string) error {
	return &Error{Kind: KindNotFound, Op: op}
}

// wrapErr tags a database error with op and a kind inferred from the
// driver failure. sql.ErrNoRows becomes NotFound, constraint violations
// become Conflict, a damaged file becomes Corrupt, everything else Io.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	kind := KindIo
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = KindNotFound
	case isConstraint(err):
		kind = KindConflict
	case isCorrupt(err):
		kind = KindCorrupt
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

// The modernc driver surfaces SQLite result codes only in the error
// text, so classification matches on the canonical messages.

func isConstraint(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

func isCorrupt(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "database disk image is malformed")
}

// isBusy reports transient lock contention worth a single retry.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
