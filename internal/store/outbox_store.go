package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mailstore/internal/model"
)

// QueueOutbox durably enqueues an outbound message. Once this commits the
// message survives crash and restart; it is removed only after a confirmed
// send or an explicit user delete. Caller-supplied CreatedAt and NotBefore
// timestamps are honored so the message is claimable as of those instants.
func (s *SQLiteStore) QueueOutbox(ctx context.Context, m model.OutboxMessage) (model.OutboxMessage, error) {
	if len(m.To) == 0 {
		return model.OutboxMessage{}, fmt.Errorf("outbox message needs at least one recipient")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.NotBefore.IsZero() {
		m.NotBefore = m.CreatedAt
	}
	m.Status = model.OutboxPending
	m.Attempts = 0

	to, err := marshalJSON(m.To)
	if err != nil {
		return model.OutboxMessage{}, err
	}

	_, err = s.exec(ctx, `
		INSERT INTO outbox (id, account_id, to_addrs, subject, body, attempts, last_error, status, not_before, created_at)
		VALUES (?, ?, ?, ?, ?, 0, '', 'pending', ?, ?)`,
		m.ID, m.AccountID, to, m.Subject, m.Body, m.NotBefore, m.CreatedAt,
	)
	if err != nil {
		return model.OutboxMessage{}, wrapErr("queue outbox", err)
	}
	return m, nil
}

// ListOutbox retrieves an account's queued messages, oldest first.
func (s *SQLiteStore) ListOutbox(ctx context.Context, accountID string) ([]model.OutboxMessage, error) {
	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM outbox WHERE account_id = ? ORDER BY created_at, id", accountID,
	)
	if err != nil {
		return nil, wrapErr("list outbox", err)
	}
	defer rows.Close()

	var msgs []model.OutboxMessage
	for rows.Next() {
		m, err := scanOutboxRow(rows)
		if err != nil {
			return nil, wrapErr("scan outbox row", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClaimNextOutbox atomically claims the oldest pending message whose
// not-before gate has passed, moving it to sending. Returns a not-found
// error when nothing is due.
func (s *SQLiteStore) ClaimNextOutbox(ctx context.Context, accountID string, now time.Time) (*model.OutboxMessage, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, wrapErr("claim outbox", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowxContext(ctx, `
		SELECT * FROM outbox
		WHERE account_id = ? AND status = 'pending' AND not_before <= ?
		ORDER BY created_at, id LIMIT 1`,
		accountID, now.UTC(),
	)

	m, err := scanOutboxRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("claim outbox")
		}
		return nil, wrapErr("claim outbox", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE outbox SET status = 'sending' WHERE id = ?", m.ID,
	); err != nil {
		return nil, wrapErr("claim outbox", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("claim outbox", err)
	}

	m.Status = model.OutboxSending
	return &m, nil
}

// RecordOutboxFailure accounts a failed attempt: increments the attempt
// counter, stores the error text, and either re-queues the message gated
// by nextAttempt or, when terminal, parks it as failed until user action.
func (s *SQLiteStore) RecordOutboxFailure(ctx context.Context, id, errText string, nextAttempt time.Time, terminal bool) error {
	status := model.OutboxPending
	if terminal {
		status = model.OutboxFailed
	}

	result, err := s.exec(ctx, `
		UPDATE outbox SET
			attempts = attempts + 1,
			last_error = ?,
			status = ?,
			not_before = ?
		WHERE id = ?`,
		errText, string(status), nextAttempt.UTC(), id,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("record outbox failure %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("record outbox failure %s", id))
	}
	return nil
}

// ResetOutbox re-arms a message for immediate retry, clearing its terminal
// state. Used when the user asks to retry a failed message.
func (s *SQLiteStore) ResetOutbox(ctx context.Context, id string, now time.Time) error {
	result, err := s.exec(ctx, `
		UPDATE outbox SET status = 'pending', attempts = 0, last_error = '', not_before = ?
		WHERE id = ?`,
		now.UTC(), id,
	)
	if err != nil {
		return wrapErr(fmt.Sprintf("reset outbox %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("reset outbox %s", id))
	}
	return nil
}

// ReleaseStaleOutbox returns sending rows claimed before cutoff to
// pending. Recovers claims orphaned by a crash mid-send.
func (s *SQLiteStore) ReleaseStaleOutbox(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.exec(ctx, `
		UPDATE outbox SET status = 'pending'
		WHERE status = 'sending' AND not_before < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, wrapErr("release stale outbox", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// DeleteOutbox removes a queued message, normally after a confirmed send.
func (s *SQLiteStore) DeleteOutbox(ctx context.Context, id string) error {
	result, err := s.exec(ctx, "DELETE FROM outbox WHERE id = ?", id)
	if err != nil {
		return wrapErr(fmt.Sprintf("delete outbox %s", id), err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(fmt.Sprintf("delete outbox %s", id))
	}
	return nil
}

// scanOutboxRow scans an outbox row.
func scanOutboxRow(row rowScanner) (model.OutboxMessage, error) {
	var (
		m      model.OutboxMessage
		to     string
		status string
	)

	err := row.Scan(
		&m.ID, &m.AccountID, &to, &m.Subject, &m.Body,
		&m.Attempts, &m.LastError, &status, &m.NotBefore, &m.CreatedAt,
	)
	if err != nil {
		return model.OutboxMessage{}, err
	}

	m.Status = model.OutboxStatus(status)
	if err := unmarshalJSON(to, &m.To); err != nil {
		return model.OutboxMessage{}, err
	}
	return m, nil
}
