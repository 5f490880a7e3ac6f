package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestWrapErrClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"no rows", sql.ErrNoRows, KindNotFound},
		{"wrapped no rows", fmt.Errorf("scanning: %w", sql.ErrNoRows), KindNotFound},
		{"unique constraint", errors.New("constraint failed: UNIQUE constraint failed: messages.folder_id, messages.uid (2067)"), KindConflict},
		{"not a database", errors.New("file is not a database (26)"), KindCorrupt},
		{"malformed image", errors.New("database disk image is malformed (11)"), KindCorrupt},
		{"plain io", errors.New("disk I/O error"), KindIo},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := wrapErr("op", tc.err)
			var se *Error
			if !errors.As(wrapped, &se) {
				t.Fatalf("wrapErr returned %T", wrapped)
			}
			if se.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", se.Kind, tc.kind)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Fatalf("wrapped error lost its cause")
			}
		})
	}

	if wrapErr("op", nil) != nil {
		t.Fatalf("wrapErr(nil) must be nil")
	}
}

func TestTaggedHelpersSurviveWrapping(t *testing.T) {
	nf := fmt.Errorf("outer: %w", notFound("get message x"))
	if !IsNotFound(nf) {
		t.Fatalf("IsNotFound missed a wrapped not-found error")
	}
	if IsConflict(nf) {
		t.Fatalf("IsConflict matched a not-found error")
	}

	conflict := fmt.Errorf("outer: %w", wrapErr("insert", errors.New("UNIQUE constraint failed: x")))
	if !IsConflict(conflict) {
		t.Fatalf("IsConflict missed a wrapped conflict")
	}
}

func TestBusyDetection(t *testing.T) {
	if !isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatalf("locked error not treated as busy")
	}
	if isBusy(errors.New("no such table: messages")) {
		t.Fatalf("schema error treated as busy")
	}
	if isBusy(nil) {
		t.Fatalf("nil treated as busy")
	}
}
