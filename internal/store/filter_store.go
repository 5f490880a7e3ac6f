package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailstore/internal/filter"
	"mailstore/internal/model"
)

// CreateFilterRule inserts a rule at the end of the account's evaluation
// order. The rule must compile; an invalid regex or unknown field is
// rejected here with a filter.RuleError, never at evaluation time.
func (s *SQLiteStore) CreateFilterRule(ctx context.Context, r model.FilterRule) (model.FilterRule, error) {
	if strings.TrimSpace(r.Name) == "" {
		return model.FilterRule{}, fmt.Errorf("rule name must not be empty")
	}
	if err := filter.Validate(r); err != nil {
		return model.FilterRule{}, err
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()

	var next int
	err := s.db.GetContext(ctx, &next,
		"SELECT COALESCE(MAX(position), -1) + 1 FROM filter_rules WHERE account_id = ?",
		r.AccountID,
	)
	if err != nil {
		return model.FilterRule{}, wrapErr("create filter rule", err)
	}
	r.Position = next

	_, err = s.exec(ctx, `
		INSERT INTO filter_rules (
			id, account_id, name, field, match, pattern, case_sensitive,
			action_type, action_arg, enabled, position, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AccountID, r.Name, string(r.Field), string(r.Match),
		r.Pattern, boolToInt(r.CaseSensitive),
		string(r.Action.Type), r.Action.Arg, boolToInt(r.Enabled),
		r.Position, r.CreatedAt,
	)
	if err != nil {
		return model.FilterRule{}, wrapErr("create filter rule", err)
	}
	return r, nil
}

// UpdateFilterRule updates a rule in place, keeping its position. The
// updated rule must compile, same as on insert.
func (s *SQLiteStore) UpdateFilterRule(ctx context.Context, r model.FilterRule) error {
	if err := filter.Validate(r); err != nil {
		return err
	}
	result, err := s.exec(ctx, `
		UPDATE filter_rules SET
			name = ?, field = ?, match = ?, pattern = ?, case_sensitive = ?,
			action_type = ?, action_arg = ?, enabled = ?
		WHERE id = ?`,
		r.Name, string(r.Field), string(r.Match), r.Pattern, boolToInt(r.CaseSensitive),
		string(r.Action.Type), r.Action.Arg, boolToInt(r.Enabled),
		r.ID,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("update filter rule %s", r.ID), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("update filter rule %s", r.ID))
	}
	return nil
}

// DeleteFilterRule removes a rule.
func (s *SQLiteStore) DeleteFilterRule(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM filter_rules WHERE id = ?", id)
	if err != nil {
		return wrapErr(fmt.Sprintf("delete filter rule %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("delete filter rule %s", id))
	}
	return nil
}

// ListFilterRules retrieves an account's rules in evaluation order.
func (s *SQLiteStore) ListFilterRules(ctx context.Context, accountID string) ([]model.FilterRule, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM filter_rules WHERE account_id = ? ORDER BY position, created_at",
		accountID,
	)
	if err != nil {
		return nil, wrapErr("list filter rules", err)
	}
	defer rows.Close()

	var rules []model.FilterRule
	for rows.Next() {
		r, err := scanFilterRuleRow(rows)
		if err != nil {
			return nil, wrapErr("scan filter rule row", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// scanFilterRuleRow scans a filter rule row.
func scanFilterRuleRow(row rowScanner) (model.FilterRule, error) {
	var (
		r                      model.FilterRule
		field, match           string
		actionType, actionArg  string
		caseSensitive, enabled int
	)

	err := row.Scan(
		&r.ID, &r.AccountID, &r.Name, &field, &match, &r.Pattern,
		&caseSensitive, &actionType, &actionArg, &enabled,
		&r.Position, &r.CreatedAt,
	)
	if err != nil {
		return model.FilterRule{}, err
	}

	r.Field = model.FilterField(field)
	r.Match = model.MatchType(match)
	r.CaseSensitive = caseSensitive != 0
	r.Enabled = enabled != 0
	r.Action = model.FilterAction{Type: model.ActionType(actionType), Arg: actionArg}
	return r, nil
}
