package testutil

import (
	"context"
	"testing"

	"mailstore/internal/model"
	"mailstore/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// NewTestAccount creates an account to hang folders and messages off.
func NewTestAccount(t *testing.T, s *store.SQLiteStore) model.Account {
	t.Helper()

	acct, err := s.CreateAccount(context.Background(), model.Account{
		Name:     "Test",
		Address:  model.EmailAddress{Name: "Test User", Address: "test@example.com"},
		Protocol: model.ProtocolIMAP,
	})
	if err != nil {
		t.Fatalf("creating test account: %v", err)
	}
	return acct
}

// NewTestFolder creates a folder under the given account.
func NewTestFolder(t *testing.T, s *store.SQLiteStore, accountID, path string, typ model.FolderType) model.Folder {
	t.Helper()

	f, err := s.UpsertFolder(context.Background(), model.Folder{
		AccountID:  accountID,
		ServerPath: path,
		Name:       path,
		Type:       typ,
	})
	if err != nil {
		t.Fatalf("creating test folder %s: %v", path, err)
	}
	return f
}
