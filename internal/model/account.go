package model

import "time"

// Protocol identifies the retrieval protocol of an account.
type Protocol string

const (
	ProtocolIMAP Protocol = "imap"
	ProtocolPOP3 Protocol = "pop3"
)

// ServerEndpoint describes one server an account talks to.
type ServerEndpoint struct {
	Host string `json:"host"`
	Port string `json:"port"`
	TLS  bool   `json:"tls"`
}

// Account is a configured mail account. Credentials are never part of the
// account record; they live in the vault keyed by the account ID.
type Account struct {
	// ID is the internal unique identifier for this account.
	ID string `json:"id"`

	// Name is the user-visible label for the account.
	Name string `json:"name"`

	// Address is the primary address mail is sent from.
	Address EmailAddress `json:"address"`

	// Protocol selects IMAP or POP3 retrieval.
	Protocol Protocol `json:"protocol"`

	// Incoming is the IMAP/POP3 endpoint, Outgoing the SMTP endpoint.
	Incoming ServerEndpoint `json:"incoming"`
	Outgoing ServerEndpoint `json:"outgoing"`

	CreatedAt time.Time `json:"created_at"`
}
