package model

import "time"

// OutboxStatus is the queue state of an outbound message.
type OutboxStatus string

const (
	// OutboxPending means the message is waiting for its next send attempt.
	OutboxPending OutboxStatus = "pending"

	// OutboxSending means a sender has claimed the message. A successful
	// send deletes the row, so "sent" is never a stored state.
	OutboxSending OutboxStatus = "sending"

	// OutboxFailed means the attempt limit was reached; the message stays
	// queued for user inspection but is not retried automatically.
	OutboxFailed OutboxStatus = "failed"
)

// OutboxMessage is a durably queued outbound message.
type OutboxMessage struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	To        []EmailAddress `json:"to"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`

	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	Status    OutboxStatus `json:"status"`

	// NotBefore gates the next attempt (exponential backoff).
	NotBefore time.Time `json:"not_before"`

	CreatedAt time.Time `json:"created_at"`
}
