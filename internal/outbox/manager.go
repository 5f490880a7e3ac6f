// Package outbox drives the durable outbound queue: enqueue, attempt
// sends with exponential backoff, and park messages that keep failing.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"mailstore/internal/model"
	"mailstore/internal/store"
	"mailstore/internal/transport"
)

const (
	// maxAttempts is the attempt count after which a message is parked as
	// failed and no longer retried automatically.
	maxAttempts = 10

	baseBackoff = 30 * time.Second
	maxBackoff  = time.Hour

	// staleClaimAge is how long a sending claim may sit before a restart
	// treats it as orphaned.
	staleClaimAge = 10 * time.Minute
)

// Store is the slice of the persistent store the manager uses.
type Store interface {
	QueueOutbox(ctx context.Context, m model.OutboxMessage) (model.OutboxMessage, error)
	ListOutbox(ctx context.Context, accountID string) ([]model.OutboxMessage, error)
	ClaimNextOutbox(ctx context.Context, accountID string, now time.Time) (*model.OutboxMessage, error)
	RecordOutboxFailure(ctx context.Context, id, errText string, nextAttempt time.Time, terminal bool) error
	ResetOutbox(ctx context.Context, id string, now time.Time) error
	ReleaseStaleOutbox(ctx context.Context, cutoff time.Time) (int, error)
	DeleteOutbox(ctx context.Context, id string) error
}

// Manager owns the outbox lifecycle. Sends happen only inside Drain,
// which the sync coordinator calls once per cycle.
type Manager struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a manager.
func New(st Store, log *slog.Logger) *Manager {
	return &Manager{store: st, log: log, now: time.Now}
}

// NewWithClock creates a manager with a custom clock. Tests use it to
// step through backoff gates without sleeping.
func NewWithClock(st Store, log *slog.Logger, now func() time.Time) *Manager {
	return &Manager{store: st, log: log, now: now}
}

// Enqueue durably queues a message for sending. Returns once the row is
// committed; actual delivery happens on a later Drain. Timestamps come
// from the manager's clock so the message is immediately claimable by it.
func (m *Manager) Enqueue(ctx context.Context, accountID string, to []model.EmailAddress, subject, body string) (model.OutboxMessage, error) {
	now := m.now().UTC()
	return m.store.QueueOutbox(ctx, model.OutboxMessage{
		AccountID: accountID,
		To:        to,
		Subject:   subject,
		Body:      body,
		CreatedAt: now,
		NotBefore: now,
	})
}

// List returns an account's queued messages, oldest first.
func (m *Manager) List(ctx context.Context, accountID string) ([]model.OutboxMessage, error) {
	return m.store.ListOutbox(ctx, accountID)
}

// Retry re-arms a parked message for immediate sending.
func (m *Manager) Retry(ctx context.Context, id string) error {
	return m.store.ResetOutbox(ctx, id, m.now())
}

// Delete removes a queued message without sending it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.store.DeleteOutbox(ctx, id)
}

// ReleaseStale returns orphaned sending claims to pending. Called once
// at startup; a claim only goes stale when a previous process died
// mid-send.
func (m *Manager) ReleaseStale(ctx context.Context) {
	n, err := m.store.ReleaseStaleOutbox(ctx, m.now().Add(-staleClaimAge))
	if err != nil {
		m.log.Warn("releasing stale outbox claims failed", "error", err)
		return
	}
	if n > 0 {
		m.log.Info("released stale outbox claims", "count", n)
	}
}

// Drain attempts up to max due sends for the account. Each message is
// claimed, sent, and either deleted on success or re-queued with
// exponential backoff. Drain stops early when the context is done or no
// message is due.
func (m *Manager) Drain(ctx context.Context, tr transport.Transport, account model.Account, max int) {
	for i := 0; i < max; i++ {
		if ctx.Err() != nil {
			return
		}

		claimed, err := m.store.ClaimNextOutbox(ctx, account.ID, m.now())
		if err != nil {
			if !store.IsNotFound(err) {
				m.log.Warn("claiming outbox message failed", "account", account.ID, "error", err)
			}
			return
		}

		m.attempt(ctx, tr, account, claimed)
	}
}

func (m *Manager) attempt(ctx context.Context, tr transport.Transport, account model.Account, msg *model.OutboxMessage) {
	err := tr.Send(ctx, account, &transport.Outgoing{
		From:    account.Address,
		To:      msg.To,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err == nil {
		if derr := m.store.DeleteOutbox(ctx, msg.ID); derr != nil {
			// The send went through; losing the delete means one
			// duplicate send after restart, never a lost message.
			m.log.Warn("deleting sent outbox message failed", "id", msg.ID, "error", derr)
		}
		m.log.Info("outbox message sent", "account", account.ID, "id", msg.ID, "subject", msg.Subject)
		return
	}

	attempts := msg.Attempts + 1
	terminal := attempts >= maxAttempts
	next := m.now().Add(backoff(attempts))

	if rerr := m.store.RecordOutboxFailure(ctx, msg.ID, err.Error(), next, terminal); rerr != nil {
		m.log.Warn("recording outbox failure failed", "id", msg.ID, "error", rerr)
		return
	}

	if terminal {
		m.log.Warn("outbox message parked after repeated failures",
			"account", account.ID, "id", msg.ID, "attempts", attempts, "error", err)
	} else {
		m.log.Info("outbox send failed, will retry",
			"account", account.ID, "id", msg.ID, "attempts", attempts, "next_attempt", next, "error", err)
	}
}

// backoff is the delay before the next attempt: base doubled per
// attempt, capped at an hour.
func backoff(attempts int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
