package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailstore/internal/model"
)

// CreateContactGroup inserts a new group with its initial members.
func (s *SQLiteStore) CreateContactGroup(ctx context.Context, g model.ContactGroup) (model.ContactGroup, error) {
	if strings.TrimSpace(g.Name) == "" {
		return model.ContactGroup{}, fmt.Errorf("group name must not be empty")
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	g.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.ContactGroup{}, wrapErr("create group", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contact_groups (id, account_id, name, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.AccountID, g.Name, g.Description, g.CreatedAt,
	)
	if err != nil {
		return model.ContactGroup{}, wrapErr("create group", err)
	}

	members := dedupeMembers(g.MemberIDs)
	for i, contactID := range members {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO contact_group_members (group_id, contact_id, position)
			VALUES (?, ?, ?)`,
			g.ID, contactID, i,
		)
		if err != nil {
			return model.ContactGroup{}, wrapErr("add group member", err)
		}
	}
	g.MemberIDs = members

	if err := tx.Commit(); err != nil {
		return model.ContactGroup{}, wrapErr("create group", err)
	}
	return g, nil
}

// UpdateContactGroup updates a group's name and description.
func (s *SQLiteStore) UpdateContactGroup(ctx context.Context, g model.ContactGroup) error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("group name must not be empty")
	}
	result, err := s.exec(ctx,
		"UPDATE contact_groups SET name = ?, description = ? WHERE id = ?",
		g.Name, g.Description, g.ID,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("update group %s", g.ID), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("update group %s", g.ID))
	}
	return nil
}

// DeleteContactGroup removes a group. Membership rows cascade; member
// contacts are left intact.
func (s *SQLiteStore) DeleteContactGroup(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM contact_groups WHERE id = ?", id)
	if err != nil {
		return wrapErr(fmt.Sprintf("delete group %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("delete group %s", id))
	}
	return nil
}

// GetContactGroup retrieves a group with its ordered member IDs.
func (s *SQLiteStore) GetContactGroup(ctx context.Context, id string) (*model.ContactGroup, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM contact_groups WHERE id = ?", id)

	var g model.ContactGroup
	err := row.Scan(&g.ID, &g.AccountID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get group %s", id), err)
	}

	members, err := s.ListGroupMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	g.MemberIDs = members
	return &g, nil
}

// ListContactGroups retrieves all groups of an account with their members.
func (s *SQLiteStore) ListContactGroups(ctx context.Context, accountID string) ([]model.ContactGroup, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM contact_groups WHERE account_id = ? ORDER BY created_at, id", accountID,
	)
	if err != nil {
		return nil, wrapErr("list groups", err)
	}
	defer rows.Close()

	var groups []model.ContactGroup
	for rows.Next() {
		var g model.ContactGroup
		if err := rows.Scan(&g.ID, &g.AccountID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, wrapErr("scan group row", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list groups", err)
	}

	for i := range groups {
		members, err := s.ListGroupMembers(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].MemberIDs = members
	}
	return groups, nil
}

// ListGroupMembers returns the ordered contact IDs of a group.
func (s *SQLiteStore) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var members []string
	err := s.db.SelectContext(ctx, &members,
		"SELECT contact_id FROM contact_group_members WHERE group_id = ? ORDER BY position, contact_id",
		groupID,
	)
	if err != nil {
		return nil, wrapErr("list group members", err)
	}
	return members, nil
}

// AddGroupMember appends a contact to a group. Membership is a set;
// re-adding an existing member is a no-op.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, groupID, contactID string) error {
	var next int
	err := s.db.GetContext(ctx, &next,
		"SELECT COALESCE(MAX(position), -1) + 1 FROM contact_group_members WHERE group_id = ?",
		groupID,
	)
	if err != nil {
		return wrapErr("add group member", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO contact_group_members (group_id, contact_id, position)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id, contact_id) DO NOTHING`,
		groupID, contactID, next,
	)
	if err != nil {
		return wrapErr("add group member", err)
	}
	return nil
}

// RemoveGroupMember removes a contact from a group.
func (s *SQLiteStore) RemoveGroupMember(ctx context.Context, groupID, contactID string) error {
	result, err := s.exec(ctx,
		"DELETE FROM contact_group_members WHERE group_id = ? AND contact_id = ?",
		groupID, contactID,
	)
	if err != nil {
		return wrapErr("remove group member", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("remove member %s from group %s", contactID, groupID))
	}
	return nil
}

// dedupeMembers keeps the first occurrence of each contact ID.
func dedupeMembers(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
