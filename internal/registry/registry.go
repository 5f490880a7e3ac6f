// Package registry is the in-memory working set of accounts, contacts,
// and contact groups. Every mutation is written through to the store
// before the cached copy changes, so the registry can be rebuilt from
// the store at any time.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mailstore/internal/model"
	"mailstore/internal/store"
)

// Store is the slice of the persistent store the registry uses.
type Store interface {
	CreateAccount(ctx context.Context, acct model.Account) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	DeleteAccount(ctx context.Context, id string) error

	CreateContact(ctx context.Context, c model.Contact) (model.Contact, error)
	UpdateContact(ctx context.Context, c model.Contact) error
	DeleteContact(ctx context.Context, id string) error
	ListContacts(ctx context.Context) ([]model.Contact, error)

	CreateContactGroup(ctx context.Context, g model.ContactGroup) (model.ContactGroup, error)
	UpdateContactGroup(ctx context.Context, g model.ContactGroup) error
	DeleteContactGroup(ctx context.Context, id string) error
	ListContactGroups(ctx context.Context, accountID string) ([]model.ContactGroup, error)
	AddGroupMember(ctx context.Context, groupID, contactID string) error
	RemoveGroupMember(ctx context.Context, groupID, contactID string) error
}

// Registry caches accounts, contacts, and groups. Lookups never touch
// the store; mutations write through.
type Registry struct {
	store Store

	mu       sync.RWMutex
	accounts map[string]model.Account
	contacts map[string]model.Contact
	groups   map[string]model.ContactGroup

	// Insertion-order ID lists; listings preserve creation order.
	accountOrder []string
	contactOrder []string
	groupOrder   []string
}

// Load builds a registry from the store's current contents.
func Load(ctx context.Context, st Store) (*Registry, error) {
	r := &Registry{
		store:    st,
		accounts: make(map[string]model.Account),
		contacts: make(map[string]model.Contact),
		groups:   make(map[string]model.ContactGroup),
	}

	accounts, err := st.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	for _, a := range accounts {
		r.accounts[a.ID] = a
		r.accountOrder = append(r.accountOrder, a.ID)
	}

	contacts, err := st.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}
	for _, c := range contacts {
		r.contacts[c.ID] = c
		r.contactOrder = append(r.contactOrder, c.ID)
	}

	for _, a := range accounts {
		groups, err := st.ListContactGroups(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("loading groups for account %s: %w", a.ID, err)
		}
		for _, g := range groups {
			r.groups[g.ID] = g
			r.groupOrder = append(r.groupOrder, g.ID)
		}
	}

	return r, nil
}

// AddAccount persists and caches a new account.
func (r *Registry) AddAccount(ctx context.Context, acct model.Account) (model.Account, error) {
	created, err := r.store.CreateAccount(ctx, acct)
	if err != nil {
		return model.Account{}, err
	}

	r.mu.Lock()
	r.accounts[created.ID] = created
	r.accountOrder = append(r.accountOrder, created.ID)
	r.mu.Unlock()
	return created, nil
}

// Account looks up an account by ID.
func (r *Registry) Account(id string) (model.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	return a, ok
}

// Accounts lists accounts in creation order.
func (r *Registry) Accounts() []model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Account, 0, len(r.accountOrder))
	for _, id := range r.accountOrder {
		out = append(out, r.accounts[id])
	}
	return out
}

// RemoveAccount deletes an account, its groups, and all of its cached
// mail (the store cascades folders and messages).
func (r *Registry) RemoveAccount(ctx context.Context, id string) error {
	if err := r.store.DeleteAccount(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.accounts, id)
	r.accountOrder = removeID(r.accountOrder, id)
	for gid, g := range r.groups {
		if g.AccountID == id {
			delete(r.groups, gid)
			r.groupOrder = removeID(r.groupOrder, gid)
		}
	}
	r.mu.Unlock()
	return nil
}

// AddContact persists and caches a new contact.
func (r *Registry) AddContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	created, err := r.store.CreateContact(ctx, c)
	if err != nil {
		return model.Contact{}, err
	}

	r.mu.Lock()
	r.contacts[created.ID] = created
	r.contactOrder = append(r.contactOrder, created.ID)
	r.mu.Unlock()
	return created, nil
}

// Contact looks up a contact by ID.
func (r *Registry) Contact(id string) (model.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	return c, ok
}

// UpdateContact persists changes to an existing contact.
func (r *Registry) UpdateContact(ctx context.Context, c model.Contact) error {
	if err := r.store.UpdateContact(ctx, c); err != nil {
		return err
	}

	r.mu.Lock()
	if old, ok := r.contacts[c.ID]; ok {
		c.CreatedAt = old.CreatedAt
	}
	r.contacts[c.ID] = c
	r.mu.Unlock()
	return nil
}

// RemoveContact deletes a contact and drops it from any group
// membership lists.
func (r *Registry) RemoveContact(ctx context.Context, id string) error {
	if err := r.store.DeleteContact(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.contacts, id)
	r.contactOrder = removeID(r.contactOrder, id)
	for gid, g := range r.groups {
		g.MemberIDs = removeID(g.MemberIDs, id)
		r.groups[gid] = g
	}
	r.mu.Unlock()
	return nil
}

// Contacts lists contacts in creation order.
func (r *Registry) Contacts() []model.Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Contact, 0, len(r.contactOrder))
	for _, id := range r.contactOrder {
		out = append(out, r.contacts[id])
	}
	return out
}

// SearchContacts returns contacts whose name or any address contains
// the query, case-insensitively, in creation order. An empty query
// returns every contact.
func (r *Registry) SearchContacts(query string) []model.Contact {
	q := strings.ToLower(strings.TrimSpace(query))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Contact
	for _, id := range r.contactOrder {
		c := r.contacts[id]
		if q == "" || contactMatches(c, q) {
			out = append(out, c)
		}
	}
	return out
}

func contactMatches(c model.Contact, q string) bool {
	if strings.Contains(strings.ToLower(c.Name), q) {
		return true
	}
	if strings.Contains(strings.ToLower(c.Email.Address), q) {
		return true
	}
	for _, addr := range c.Secondary {
		if strings.Contains(strings.ToLower(addr.Address), q) {
			return true
		}
	}
	return false
}

// AddGroup persists and caches a new contact group.
func (r *Registry) AddGroup(ctx context.Context, g model.ContactGroup) (model.ContactGroup, error) {
	created, err := r.store.CreateContactGroup(ctx, g)
	if err != nil {
		return model.ContactGroup{}, err
	}

	r.mu.Lock()
	r.groups[created.ID] = created
	r.groupOrder = append(r.groupOrder, created.ID)
	r.mu.Unlock()
	return created, nil
}

// Group looks up a group by ID.
func (r *Registry) Group(id string) (model.ContactGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	return g, ok
}

// Groups lists an account's groups in creation order.
func (r *Registry) Groups(accountID string) []model.ContactGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.ContactGroup
	for _, id := range r.groupOrder {
		g := r.groups[id]
		if g.AccountID == accountID {
			out = append(out, g)
		}
	}
	return out
}

// RemoveGroup deletes a group. Member contacts are untouched.
func (r *Registry) RemoveGroup(ctx context.Context, id string) error {
	if err := r.store.DeleteContactGroup(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.groups, id)
	r.groupOrder = removeID(r.groupOrder, id)
	r.mu.Unlock()
	return nil
}

// AddGroupMember adds a contact to a group; adding an existing member
// is a no-op.
func (r *Registry) AddGroupMember(ctx context.Context, groupID, contactID string) error {
	r.mu.RLock()
	_, knownContact := r.contacts[contactID]
	_, knownGroup := r.groups[groupID]
	r.mu.RUnlock()
	if !knownGroup {
		return &store.Error{Kind: store.KindNotFound, Op: fmt.Sprintf("group %s", groupID)}
	}
	if !knownContact {
		return &store.Error{Kind: store.KindNotFound, Op: fmt.Sprintf("contact %s", contactID)}
	}

	if err := r.store.AddGroupMember(ctx, groupID, contactID); err != nil {
		return err
	}

	r.mu.Lock()
	g := r.groups[groupID]
	if !containsID(g.MemberIDs, contactID) {
		g.MemberIDs = append(g.MemberIDs, contactID)
		r.groups[groupID] = g
	}
	r.mu.Unlock()
	return nil
}

// RemoveGroupMember removes a contact from a group.
func (r *Registry) RemoveGroupMember(ctx context.Context, groupID, contactID string) error {
	if err := r.store.RemoveGroupMember(ctx, groupID, contactID); err != nil {
		return err
	}

	r.mu.Lock()
	g := r.groups[groupID]
	g.MemberIDs = removeID(g.MemberIDs, contactID)
	r.groups[groupID] = g
	r.mu.Unlock()
	return nil
}

// ResolveGroupEmails expands a group into its members' primary
// addresses, deduplicated, in membership order.
func (r *Registry) ResolveGroupEmails(groupID string) ([]model.EmailAddress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[groupID]
	if !ok {
		return nil, &store.Error{Kind: store.KindNotFound, Op: fmt.Sprintf("group %s", groupID)}
	}

	seen := make(map[string]bool)
	var out []model.EmailAddress
	for _, id := range g.MemberIDs {
		c, ok := r.contacts[id]
		if !ok {
			continue
		}
		key := strings.ToLower(c.Email.Address)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c.Email)
	}
	return out, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
