package registry_test

import (
	"context"
	"testing"

	"mailstore/internal/model"
	"mailstore/internal/registry"
	"mailstore/internal/store"
	"mailstore/tests/testutil"
)

func newRegistry(t *testing.T) (*registry.Registry, *store.SQLiteStore, model.Account) {
	t.Helper()
	s := testutil.NewTestStore(t)
	acct := testutil.NewTestAccount(t, s)

	r, err := registry.Load(context.Background(), s)
	if err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	return r, s, acct
}

func addContact(t *testing.T, r *registry.Registry, name, email string) model.Contact {
	t.Helper()
	c, err := r.AddContact(context.Background(), model.Contact{
		Name:  name,
		Email: model.EmailAddress{Name: name, Address: email},
	})
	if err != nil {
		t.Fatalf("adding contact %s: %v", name, err)
	}
	return c
}

func TestGroupLifecycle(t *testing.T) {
	r, _, acct := newRegistry(t)
	ctx := context.Background()

	alice := addContact(t, r, "Alice", "alice@example.com")
	bob := addContact(t, r, "Bob", "bob@example.com")
	charlie := addContact(t, r, "Charlie", "charlie@example.com")

	team, err := r.AddGroup(ctx, model.ContactGroup{AccountID: acct.ID, Name: "Team"})
	if err != nil {
		t.Fatalf("adding group: %v", err)
	}
	for _, c := range []model.Contact{alice, bob, charlie} {
		if err := r.AddGroupMember(ctx, team.ID, c.ID); err != nil {
			t.Fatalf("adding member %s: %v", c.Name, err)
		}
	}

	emails, err := r.ResolveGroupEmails(team.ID)
	if err != nil {
		t.Fatalf("resolving group: %v", err)
	}
	if len(emails) != 3 {
		t.Fatalf("group resolves to %d addresses, want 3", len(emails))
	}
	want := []string{"alice@example.com", "bob@example.com", "charlie@example.com"}
	for i, addr := range emails {
		if addr.Address != want[i] {
			t.Fatalf("member %d = %s, want %s", i, addr.Address, want[i])
		}
	}

	if err := r.RemoveGroupMember(ctx, team.ID, bob.ID); err != nil {
		t.Fatalf("removing member: %v", err)
	}
	emails, _ = r.ResolveGroupEmails(team.ID)
	if len(emails) != 2 || emails[1].Address != "charlie@example.com" {
		t.Fatalf("after removal: %+v", emails)
	}

	// Deleting the group keeps the contacts.
	if err := r.RemoveGroup(ctx, team.ID); err != nil {
		t.Fatalf("removing group: %v", err)
	}
	if _, ok := r.Group(team.ID); ok {
		t.Fatalf("group still cached after removal")
	}
	if got := len(r.Contacts()); got != 3 {
		t.Fatalf("contacts after group delete = %d, want 3", got)
	}
}

func TestDuplicateMemberIsNoOp(t *testing.T) {
	r, _, acct := newRegistry(t)
	ctx := context.Background()

	alice := addContact(t, r, "Alice", "alice@example.com")
	team, err := r.AddGroup(ctx, model.ContactGroup{AccountID: acct.ID, Name: "Team"})
	if err != nil {
		t.Fatalf("adding group: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := r.AddGroupMember(ctx, team.ID, alice.ID); err != nil {
			t.Fatalf("add member run %d: %v", i, err)
		}
	}

	g, _ := r.Group(team.ID)
	if len(g.MemberIDs) != 1 {
		t.Fatalf("member list = %v, want a single entry", g.MemberIDs)
	}
}

func TestSearchContacts(t *testing.T) {
	r, _, _ := newRegistry(t)

	addContact(t, r, "Alice Anderson", "alice@example.com")
	bob := addContact(t, r, "Bob", "bob@work.example.com")

	if got := r.SearchContacts("ALICE"); len(got) != 1 || got[0].Name != "Alice Anderson" {
		t.Fatalf("name search = %+v", got)
	}
	if got := r.SearchContacts("work.example"); len(got) != 1 || got[0].ID != bob.ID {
		t.Fatalf("address search = %+v", got)
	}
	if got := r.SearchContacts("example.com"); len(got) != 2 {
		t.Fatalf("shared-domain search = %+v", got)
	}
	if got := r.SearchContacts("zzz"); len(got) != 0 {
		t.Fatalf("miss returned %+v", got)
	}
	if got := r.SearchContacts(""); len(got) != 2 {
		t.Fatalf("empty query must list all, got %+v", got)
	}
}

func TestSecondaryAddressesSearchable(t *testing.T) {
	r, _, _ := newRegistry(t)
	ctx := context.Background()

	c, err := r.AddContact(ctx, model.Contact{
		Name:  "Dana",
		Email: model.EmailAddress{Address: "dana@example.com"},
		Secondary: []model.EmailAddress{
			{Address: "dana@personal.example.org"},
		},
	})
	if err != nil {
		t.Fatalf("adding contact: %v", err)
	}

	if got := r.SearchContacts("personal.example"); len(got) != 1 || got[0].ID != c.ID {
		t.Fatalf("secondary address search = %+v", got)
	}
}

func TestRegistryReloadsFromStore(t *testing.T) {
	r, s, acct := newRegistry(t)
	ctx := context.Background()

	alice := addContact(t, r, "Alice", "alice@example.com")
	team, err := r.AddGroup(ctx, model.ContactGroup{AccountID: acct.ID, Name: "Team"})
	if err != nil {
		t.Fatalf("adding group: %v", err)
	}
	if err := r.AddGroupMember(ctx, team.ID, alice.ID); err != nil {
		t.Fatalf("adding member: %v", err)
	}

	// A fresh registry over the same store sees the same state.
	r2, err := registry.Load(ctx, s)
	if err != nil {
		t.Fatalf("reloading registry: %v", err)
	}
	if got := r2.Contacts(); len(got) != 1 || got[0].ID != alice.ID {
		t.Fatalf("reloaded contacts = %+v", got)
	}
	emails, err := r2.ResolveGroupEmails(team.ID)
	if err != nil || len(emails) != 1 {
		t.Fatalf("reloaded group resolve = %+v, %v", emails, err)
	}
}

func TestRemoveContactDropsGroupMembership(t *testing.T) {
	r, _, acct := newRegistry(t)
	ctx := context.Background()

	alice := addContact(t, r, "Alice", "alice@example.com")
	bob := addContact(t, r, "Bob", "bob@example.com")
	team, _ := r.AddGroup(ctx, model.ContactGroup{AccountID: acct.ID, Name: "Team"})
	_ = r.AddGroupMember(ctx, team.ID, alice.ID)
	_ = r.AddGroupMember(ctx, team.ID, bob.ID)

	if err := r.RemoveContact(ctx, alice.ID); err != nil {
		t.Fatalf("removing contact: %v", err)
	}

	emails, err := r.ResolveGroupEmails(team.ID)
	if err != nil {
		t.Fatalf("resolving group: %v", err)
	}
	if len(emails) != 1 || emails[0].Address != "bob@example.com" {
		t.Fatalf("group after contact removal = %+v", emails)
	}
}

func TestUnknownLookupsAreTaggedNotFound(t *testing.T) {
	r, _, acct := newRegistry(t)
	ctx := context.Background()

	alice := addContact(t, r, "Alice", "alice@example.com")
	team, err := r.AddGroup(ctx, model.ContactGroup{AccountID: acct.ID, Name: "Team"})
	if err != nil {
		t.Fatalf("adding group: %v", err)
	}

	if err := r.AddGroupMember(ctx, "no-such-group", alice.ID); !store.IsNotFound(err) {
		t.Fatalf("unknown group error = %v", err)
	}
	if err := r.AddGroupMember(ctx, team.ID, "no-such-contact"); !store.IsNotFound(err) {
		t.Fatalf("unknown contact error = %v", err)
	}
	if _, err := r.ResolveGroupEmails("no-such-group"); !store.IsNotFound(err) {
		t.Fatalf("unknown group resolve error = %v", err)
	}
}
