package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailstore/internal/model"
)

// CreateAccount inserts a new account. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateAccount(ctx context.Context, acct model.Account) (model.Account, error) {
	if strings.TrimSpace(acct.Address.Address) == "" {
		return model.Account{}, fmt.Errorf("account primary address must not be empty")
	}
	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	if acct.Protocol == "" {
		acct.Protocol = model.ProtocolIMAP
	}
	acct.CreatedAt = time.Now().UTC()

	addr, err := marshalJSON(acct.Address)
	if err != nil {
		return model.Account{}, err
	}
	incoming, err := marshalJSON(acct.Incoming)
	if err != nil {
		return model.Account{}, err
	}
	outgoing, err := marshalJSON(acct.Outgoing)
	if err != nil {
		return model.Account{}, err
	}

	_, err = s.exec(ctx, `
		INSERT INTO accounts (id, name, address, protocol, incoming, outgoing, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acct.ID, acct.Name, addr, string(acct.Protocol), incoming, outgoing, acct.CreatedAt,
	)
	if err != nil {
		return model.Account{}, wrapErr("create account", err)
	}
	return acct, nil
}

// GetAccount retrieves a single account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM accounts WHERE id = ?", id)
	acct, err := scanAccountRow(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get account %s", id), err)
	}
	return &acct, nil
}

// ListAccounts retrieves all accounts ordered by creation time.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM accounts ORDER BY created_at, id")
	if err != nil {
		return nil, wrapErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		acct, err := scanAccountRow(rows)
		if err != nil {
			return nil, wrapErr("scan account row", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account. Folders, messages, rules, group and
// outbox rows cascade.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return wrapErr(fmt.Sprintf("delete account %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("delete account %s", id))
	}
	return nil
}

// rowScanner is satisfied by both sqlx.Row and sqlx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccountRow scans an account row.
func scanAccountRow(row rowScanner) (model.Account, error) {
	var (
		acct     model.Account
		protocol string
		addr     string
		incoming string
		outgoing string
	)

	err := row.Scan(
		&acct.ID, &acct.Name, &addr, &protocol,
		&incoming, &outgoing, &acct.CreatedAt,
	)
	if err != nil {
		return model.Account{}, err
	}

	acct.Protocol = model.Protocol(protocol)
	if err := unmarshalJSON(addr, &acct.Address); err != nil {
		return model.Account{}, err
	}
	if err := unmarshalJSON(incoming, &acct.Incoming); err != nil {
		return model.Account{}, err
	}
	if err := unmarshalJSON(outgoing, &acct.Outgoing); err != nil {
		return model.Account{}, err
	}
	return acct, nil
}
