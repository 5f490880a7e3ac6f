// Package transport defines the contract between the sync core and the
// protocol adapters that actually speak IMAP/POP3/SMTP. The core treats
// adapters as opaque collaborators; everything protocol-specific lives
// behind this interface.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailstore/internal/model"
)

// ErrorKind classifies transport failures so the sync loop can choose
// between re-authentication, backoff, and skipping.
type ErrorKind string

const (
	KindAuth    ErrorKind = "auth"
	KindNetwork ErrorKind = "network"
	KindServer  ErrorKind = "server"
	KindTimeout ErrorKind = "timeout"
)

// Error is a tagged transport failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("transport: %s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, defaulting to server for untyped
// errors. Context deadline errors classify as timeouts.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindServer
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return KindOf(err) == KindAuth
}

// FolderInfo describes one server-side mailbox.
type FolderInfo struct {
	// Path is the full mailbox path with the server's delimiter.
	Path string

	// Attrs are the raw mailbox attributes as reported by the server.
	Attrs []string
}

// FolderTypeFor maps a server path and its attributes onto a local
// folder type. Attributes win over path heuristics.
func FolderTypeFor(path string, attrs []string) model.FolderType {
	for _, attr := range attrs {
		switch strings.ToLower(strings.TrimPrefix(attr, "\\")) {
		case "sent":
			return model.FolderSent
		case "drafts":
			return model.FolderDrafts
		case "trash":
			return model.FolderTrash
		case "junk":
			return model.FolderSpam
		case "archive", "all":
			return model.FolderArchive
		}
	}

	switch strings.ToLower(path) {
	case "inbox":
		return model.FolderInbox
	case "sent", "sent items", "sent messages":
		return model.FolderSent
	case "drafts":
		return model.FolderDrafts
	case "trash", "deleted items":
		return model.FolderTrash
	case "spam", "junk":
		return model.FolderSpam
	case "archive":
		return model.FolderArchive
	}
	return model.FolderCustom
}

// RawMessage is a fetched remote message, already broken into the parts
// the ingestion pipeline needs.
type RawMessage struct {
	Folder    string // server path
	UID       uint32
	MessageID string
	Subject   string
	From      model.EmailAddress
	To        []model.EmailAddress
	Cc        []model.EmailAddress
	Date      time.Time
	BodyText  string
	BodyHTML  string
	Flags     model.Flags
}

// Outgoing is a composed message handed to the adapter for delivery.
type Outgoing struct {
	From    model.EmailAddress
	To      []model.EmailAddress
	Subject string
	Body    string
}

// Transport is implemented by protocol adapters. Every call honors the
// context deadline; the sync loop applies a per-call timeout.
type Transport interface {
	// Ready reports whether the adapter can serve the account right now
	// (credentials present, network reachable).
	Ready(ctx context.Context, account model.Account) bool

	// ListFolders enumerates the server's mailboxes.
	ListFolders(ctx context.Context, account model.Account) ([]FolderInfo, error)

	// FetchUIDsSince returns UIDs in folder strictly greater than uid,
	// ascending.
	FetchUIDsSince(ctx context.Context, account model.Account, folder string, uid uint32) ([]uint32, error)

	// FetchMessage retrieves and parses a single message.
	FetchMessage(ctx context.Context, account model.Account, folder string, uid uint32) (*RawMessage, error)

	// Send delivers an outbound message.
	Send(ctx context.Context, account model.Account, msg *Outgoing) error
}
