package model

import "time"

// Flags are the mutable per-message state bits mirrored from the server
// and modified by filter actions or user commands.
type Flags struct {
	Read    bool `json:"read"`
	Starred bool `json:"starred"`
	Deleted bool `json:"deleted"`
}

// Message is a cached copy of a remote message. (FolderID, UID) is unique;
// MessageID is unique within an account.
type Message struct {
	// ID is the internal row identifier.
	ID string `json:"id"`

	AccountID string `json:"account_id"`
	FolderID  string `json:"folder_id"`

	// UID is the server-assigned identifier within the folder.
	UID uint32 `json:"uid"`

	// MessageID is the RFC Message-Id header value.
	MessageID string `json:"message_id"`

	Subject string         `json:"subject"`
	From    EmailAddress   `json:"from"`
	To      []EmailAddress `json:"to"`
	Cc      []EmailAddress `json:"cc,omitempty"`

	// Date is the message date as an RFC3339 string.
	Date string `json:"date"`

	BodyText string `json:"body_text,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`

	Flags Flags `json:"flags"`

	// Tags is the deduplicated, case-preserving label set applied by
	// filter rules or the user.
	Tags []string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DateTime parses the RFC3339 Date field, returning the zero time when the
// field is absent or malformed.
func (m *Message) DateTime() time.Time {
	t, err := time.Parse(time.RFC3339, m.Date)
	if err != nil {
		return time.Time{}
	}
	return t
}
