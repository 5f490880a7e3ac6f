package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailstore/internal/model"
)

// CreateContact inserts a new contact. Generates a UUID if ID is empty.
func (s *SQLiteStore) CreateContact(ctx context.Context, c model.Contact) (model.Contact, error) {
	if strings.TrimSpace(c.Email.Address) == "" {
		return model.Contact{}, fmt.Errorf("contact primary address must not be empty")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()

	email, err := marshalJSON(c.Email)
	if err != nil {
		return model.Contact{}, err
	}
	secondary, err := marshalJSON(c.Secondary)
	if err != nil {
		return model.Contact{}, err
	}

	_, err = s.exec(ctx, `
		INSERT INTO contacts (id, name, email, secondary, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, email, secondary, c.CreatedAt,
	)
	if err != nil {
		return model.Contact{}, wrapErr("create contact", err)
	}
	return c, nil
}

// UpdateContact updates an existing contact's name and addresses.
func (s *SQLiteStore) UpdateContact(ctx context.Context, c model.Contact) error {
	email, err := marshalJSON(c.Email)
	if err != nil {
		return err
	}
	secondary, err := marshalJSON(c.Secondary)
	if err != nil {
		return err
	}

	result, err := s.exec(ctx,
		"UPDATE contacts SET name = ?, email = ?, secondary = ? WHERE id = ?",
		c.Name, email, secondary, c.ID,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("update contact %s", c.ID), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("update contact %s", c.ID))
	}
	return nil
}

// DeleteContact removes a contact. Group membership rows cascade; groups
// themselves are untouched.
func (s *SQLiteStore) DeleteContact(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM contacts WHERE id = ?", id)
	if err != nil {
		return wrapErr(fmt.Sprintf("delete contact %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("delete contact %s", id))
	}
	return nil
}

// GetContact retrieves a single contact by ID.
func (s *SQLiteStore) GetContact(ctx context.Context, id string) (*model.Contact, error) {
	row := s.db.QueryRowxContext(ctx, "SELECT * FROM contacts WHERE id = ?", id)
	c, err := scanContactRow(row)
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("get contact %s", id), err)
	}
	return &c, nil
}

// ListContacts retrieves all contacts in insertion order.
func (s *SQLiteStore) ListContacts(ctx context.Context) ([]model.Contact, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT * FROM contacts ORDER BY created_at, id")
	if err != nil {
		return nil, wrapErr("list contacts", err)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanContactRow(rows)
		if err != nil {
			return nil, wrapErr("scan contact row", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// scanContactRow scans a contact row.
func scanContactRow(row rowScanner) (model.Contact, error) {
	var (
		c         model.Contact
		email     string
		secondary string
	)

	err := row.Scan(&c.ID, &c.Name, &email, &secondary, &c.CreatedAt)
	if err != nil {
		return model.Contact{}, err
	}

	if err := unmarshalJSON(email, &c.Email); err != nil {
		return model.Contact{}, err
	}
	if err := unmarshalJSON(secondary, &c.Secondary); err != nil {
		return model.Contact{}, err
	}
	return c, nil
}
