package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mailstore/internal/filter"
	"mailstore/internal/model"
	"mailstore/internal/store"
	"mailstore/tests/testutil"
)

func TestFolderUpsertIsKeyedByAccountAndPath(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	ctx := context.Background()

	first, err := s.UpsertFolder(ctx, model.Folder{
		AccountID: acct.ID, ServerPath: "INBOX", Name: "Inbox", Type: model.FolderInbox,
	})
	if err != nil {
		t.Fatalf("upsert folder: %v", err)
	}

	second, err := s.UpsertFolder(ctx, model.Folder{
		AccountID: acct.ID, ServerPath: "INBOX", Name: "Renamed", Type: model.FolderInbox,
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("upsert created a new row: %s vs %s", second.ID, first.ID)
	}
	if second.Name != "Renamed" {
		t.Fatalf("upsert did not update name: %q", second.Name)
	}

	folders, err := s.ListFolders(ctx, acct.ID)
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	if len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(folders))
	}
}

func TestMessageUniquenessAndFlags(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	inbox := testutil.NewTestFolder(t, s, acct.ID, "INBOX", model.FolderInbox)
	ctx := context.Background()

	msg := model.Message{
		AccountID: acct.ID,
		FolderID:  inbox.ID,
		UID:       7,
		MessageID: "<m1@example.com>",
		Subject:   "Hello",
		From:      model.EmailAddress{Address: "alice@example.com"},
		To:        []model.EmailAddress{{Address: "test@example.com"}},
		Date:      time.Now().UTC().Format(time.RFC3339),
	}

	stored, err := s.InsertMessage(ctx, msg)
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}

	// Same (folder, UID) must conflict.
	dup := msg
	dup.MessageID = "<m2@example.com>"
	if _, err := s.InsertMessage(ctx, dup); !store.IsConflict(err) {
		t.Fatalf("expected conflict for duplicate UID, got %v", err)
	}

	// Same Message-Id in another folder of the same account must conflict.
	sent := testutil.NewTestFolder(t, s, acct.ID, "Sent", model.FolderSent)
	dup = msg
	dup.FolderID = sent.ID
	dup.UID = 1
	if _, err := s.InsertMessage(ctx, dup); !store.IsConflict(err) {
		t.Fatalf("expected conflict for duplicate Message-Id, got %v", err)
	}

	got, err := s.GetMessage(ctx, inbox.ID, 7)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.ID != stored.ID || got.Subject != "Hello" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Flags.Read {
		t.Fatal("new message must be unread")
	}

	if err := s.SetFlags(ctx, got.ID, model.Flags{Read: true}); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	got, err = s.GetMessage(ctx, inbox.ID, 7)
	if err != nil {
		t.Fatalf("get message after flags: %v", err)
	}
	if !got.Flags.Read {
		t.Fatal("read flag not persisted")
	}
}

func TestFolderUnreadCountTracksMessages(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	inbox := testutil.NewTestFolder(t, s, acct.ID, "INBOX", model.FolderInbox)
	ctx := context.Background()

	for uid := uint32(1); uid <= 3; uid++ {
		_, err := s.InsertMessage(ctx, model.Message{
			AccountID: acct.ID, FolderID: inbox.ID, UID: uid,
			Subject: "m", From: model.EmailAddress{Address: "a@example.com"},
			Flags: model.Flags{Read: uid == 1},
		})
		if err != nil {
			t.Fatalf("insert uid %d: %v", uid, err)
		}
	}

	f, err := s.GetFolder(ctx, inbox.ID)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if f.UnreadCount != 2 {
		t.Fatalf("unread count = %d, want 2", f.UnreadCount)
	}
}

func TestMaxUID(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	inbox := testutil.NewTestFolder(t, s, acct.ID, "INBOX", model.FolderInbox)
	ctx := context.Background()

	max, err := s.MaxUID(ctx, inbox.ID)
	if err != nil || max != 0 {
		t.Fatalf("empty folder MaxUID = %d, %v", max, err)
	}

	for _, uid := range []uint32{3, 12, 5} {
		_, err := s.InsertMessage(ctx, model.Message{
			AccountID: acct.ID, FolderID: inbox.ID, UID: uid,
			From: model.EmailAddress{Address: "a@example.com"},
		})
		if err != nil {
			t.Fatalf("insert uid %d: %v", uid, err)
		}
	}

	max, err = s.MaxUID(ctx, inbox.ID)
	if err != nil {
		t.Fatalf("MaxUID: %v", err)
	}
	if max != 12 {
		t.Fatalf("MaxUID = %d, want 12", max)
	}
}

func TestOutboxSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "mail.db")
	ctx := context.Background()

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	acct := testutil.NewTestAccount(t, s)

	queued, err := s.QueueOutbox(ctx, model.OutboxMessage{
		AccountID: acct.ID,
		To:        []model.EmailAddress{{Address: "bob@example.com"}},
		Subject:   "Offline draft",
		Body:      "sent while offline",
	})
	if err != nil {
		t.Fatalf("queue outbox: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	msgs, err := reopened.ListOutbox(ctx, acct.ID)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != queued.ID {
		t.Fatalf("queued message lost across reopen: %+v", msgs)
	}
	if msgs[0].Status != model.OutboxPending || msgs[0].Attempts != 0 {
		t.Fatalf("unexpected queue state: %+v", msgs[0])
	}
}

func TestClaimNextOutboxHonorsBackoffGate(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := s.QueueOutbox(ctx, model.OutboxMessage{
		AccountID: acct.ID,
		To:        []model.EmailAddress{{Address: "x@example.com"}},
		Subject:   "first",
		CreatedAt: now,
		NotBefore: now,
	})
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	claimed, err := s.ClaimNextOutbox(ctx, acct.ID, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != first.ID || claimed.Status != model.OutboxSending {
		t.Fatalf("unexpected claim: %+v", claimed)
	}

	// Nothing else pending.
	if _, err := s.ClaimNextOutbox(ctx, acct.ID, now); !store.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	// A failure re-queues gated in the future; claiming now still finds
	// nothing, claiming past the gate succeeds.
	gate := now.Add(time.Minute)
	if err := s.RecordOutboxFailure(ctx, first.ID, "connection refused", gate, false); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if _, err := s.ClaimNextOutbox(ctx, acct.ID, now); !store.IsNotFound(err) {
		t.Fatalf("claim before gate should miss, got %v", err)
	}
	claimed, err = s.ClaimNextOutbox(ctx, acct.ID, gate.Add(time.Second))
	if err != nil {
		t.Fatalf("claim after gate: %v", err)
	}
	if claimed.Attempts != 1 || claimed.LastError != "connection refused" {
		t.Fatalf("failure accounting missing: %+v", claimed)
	}
}

func TestGroupDeletionKeepsContacts(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	ctx := context.Background()

	alice, err := s.CreateContact(ctx, model.Contact{Name: "Alice", Email: model.EmailAddress{Address: "alice@example.com"}})
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := s.CreateContact(ctx, model.Contact{Name: "Bob", Email: model.EmailAddress{Address: "bob@example.com"}})
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}

	group, err := s.CreateContactGroup(ctx, model.ContactGroup{
		AccountID: acct.ID,
		Name:      "Team",
		MemberIDs: []string{alice.ID, bob.ID, bob.ID},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if len(group.MemberIDs) != 2 {
		t.Fatalf("membership must be a set, got %v", group.MemberIDs)
	}

	if err := s.DeleteContactGroup(ctx, group.ID); err != nil {
		t.Fatalf("delete group: %v", err)
	}

	contacts, err := s.ListContacts(ctx)
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("group deletion removed contacts: %d left", len(contacts))
	}
}

func TestFilterRulePositionsFollowInsertionOrder(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	ctx := context.Background()

	names := []string{"first", "second", "third"}
	for _, name := range names {
		_, err := s.CreateFilterRule(ctx, model.FilterRule{
			AccountID: acct.ID, Name: name,
			Field: model.FieldSubject, Match: model.MatchContains, Pattern: name,
			Action: model.FilterAction{Type: model.ActionMarkAsRead}, Enabled: true,
		})
		if err != nil {
			t.Fatalf("create rule %s: %v", name, err)
		}
	}

	rules, err := s.ListFilterRules(ctx, acct.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	for i, r := range rules {
		if r.Name != names[i] || r.Position != i {
			t.Fatalf("rule %d out of order: %+v", i, r)
		}
	}
}

func TestMessageTagsMoveAndPurge(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	inbox := testutil.NewTestFolder(t, s, acct.ID, "INBOX", model.FolderInbox)
	archive := testutil.NewTestFolder(t, s, acct.ID, "Archive", model.FolderArchive)
	ctx := context.Background()

	stored, err := s.InsertMessage(ctx, model.Message{
		AccountID: acct.ID, FolderID: inbox.ID, UID: 1,
		Subject: "tagged", From: model.EmailAddress{Address: "a@example.com"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.SetTags(ctx, stored.ID, []string{"work", "urgent"}); err != nil {
		t.Fatalf("set tags: %v", err)
	}
	got, err := s.GetMessageByID(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "work" {
		t.Fatalf("tags = %v", got.Tags)
	}

	if err := s.MoveMessage(ctx, stored.ID, archive.ID); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := s.GetMessage(ctx, inbox.ID, 1); !store.IsNotFound(err) {
		t.Fatalf("message still in inbox: %v", err)
	}
	if _, err := s.GetMessage(ctx, archive.ID, 1); err != nil {
		t.Fatalf("message not in archive: %v", err)
	}

	// Soft delete keeps the row until a purge past its timestamp.
	if err := s.SetFlags(ctx, stored.ID, model.Flags{Deleted: true}); err != nil {
		t.Fatalf("set deleted: %v", err)
	}
	if _, err := s.GetMessageByID(ctx, stored.ID); err != nil {
		t.Fatalf("soft-deleted row already gone: %v", err)
	}
	n, err := s.PurgeDeleted(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1", n)
	}
	if _, err := s.GetMessageByID(ctx, stored.ID); !store.IsNotFound(err) {
		t.Fatalf("purged row still present: %v", err)
	}
}

func TestUpdateFilterRule(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	ctx := context.Background()

	rule, err := s.CreateFilterRule(ctx, model.FilterRule{
		AccountID: acct.ID, Name: "spam",
		Field: model.FieldSubject, Match: model.MatchContains, Pattern: "win money",
		Action: model.FilterAction{Type: model.ActionDelete}, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	rule.Pattern = "free money"
	rule.Enabled = false
	if err := s.UpdateFilterRule(ctx, rule); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	rules, err := s.ListFilterRules(ctx, acct.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Pattern != "free money" || rules[0].Enabled {
		t.Fatalf("update not persisted: %+v", rules)
	}
	if rules[0].Position != rule.Position {
		t.Fatalf("update changed position: %d vs %d", rules[0].Position, rule.Position)
	}
}

func TestUncompilableRuleIsRejectedOnWrite(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	ctx := context.Background()

	_, err := s.CreateFilterRule(ctx, model.FilterRule{
		AccountID: acct.ID, Name: "broken",
		Field: model.FieldSubject, Match: model.MatchRegex, Pattern: "[unclosed",
		Action: model.FilterAction{Type: model.ActionMarkAsRead}, Enabled: true,
	})
	if !filter.IsRuleError(err) {
		t.Fatalf("invalid regex accepted at insert, err = %v", err)
	}

	rule, err := s.CreateFilterRule(ctx, model.FilterRule{
		AccountID: acct.ID, Name: "ok",
		Field: model.FieldSubject, Match: model.MatchContains, Pattern: "x",
		Action: model.FilterAction{Type: model.ActionMarkAsRead}, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	rule.Match = model.MatchRegex
	rule.Pattern = "(?P<oops"
	if err := s.UpdateFilterRule(ctx, rule); !filter.IsRuleError(err) {
		t.Fatalf("invalid regex accepted at update, err = %v", err)
	}

	rules, err := s.ListFilterRules(ctx, acct.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(rules) != 1 || rules[0].Pattern != "x" {
		t.Fatalf("rejected writes changed stored rules: %+v", rules)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	inbox := testutil.NewTestFolder(t, s, acct.ID, "INBOX", model.FolderInbox)
	ctx := context.Background()

	if _, err := s.InsertMessage(ctx, model.Message{
		AccountID: acct.ID, FolderID: inbox.ID, UID: 1,
		From: model.EmailAddress{Address: "a@example.com"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.QueueOutbox(ctx, model.OutboxMessage{
		AccountID: acct.ID, To: []model.EmailAddress{{Address: "b@example.com"}},
	}); err != nil {
		t.Fatalf("queue: %v", err)
	}

	if err := s.DeleteAccount(ctx, acct.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	if _, err := s.GetFolder(ctx, inbox.ID); !store.IsNotFound(err) {
		t.Fatalf("folder survived account delete: %v", err)
	}
	if msgs, _ := s.ListOutbox(ctx, acct.ID); len(msgs) != 0 {
		t.Fatalf("outbox survived account delete: %+v", msgs)
	}
}

func TestUpdateContact(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	c, err := s.CreateContact(ctx, model.Contact{
		Name:  "Alice",
		Email: model.EmailAddress{Address: "alice@example.com"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c.Name = "Alice Anderson"
	c.Secondary = []model.EmailAddress{{Address: "alice@home.example.org"}}
	if err := s.UpdateContact(ctx, c); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetContact(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Alice Anderson" || len(got.Secondary) != 1 {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestMissingFolderGracePeriod(t *testing.T) {
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)
	folder := testutil.NewTestFolder(t, s, acct.ID, "Old", model.FolderCustom)
	ctx := context.Background()

	missingAt := time.Now().UTC().Add(-48 * time.Hour)
	if err := s.MarkFolderMissing(ctx, folder.ID, missingAt); err != nil {
		t.Fatalf("mark missing: %v", err)
	}

	// Inside the grace window nothing is purged.
	n, err := s.PurgeMissingFolders(ctx, missingAt.Add(-time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("premature purge: %d, %v", n, err)
	}

	n, err = s.PurgeMissingFolders(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged folder, got %d", n)
	}
	if _, err := s.GetFolder(ctx, folder.ID); !store.IsNotFound(err) {
		t.Fatalf("folder should be gone, got %v", err)
	}
}
