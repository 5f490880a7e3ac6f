package model

import "time"

// FolderType classifies a mirrored server folder.
type FolderType string

const (
	FolderInbox   FolderType = "inbox"
	FolderSent    FolderType = "sent"
	FolderDrafts  FolderType = "drafts"
	FolderTrash   FolderType = "trash"
	FolderSpam    FolderType = "spam"
	FolderArchive FolderType = "archive"
	FolderCustom  FolderType = "custom"
)

// Folder is a locally mirrored server mailbox. (AccountID, ServerPath) is
// unique per store.
type Folder struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	ServerPath string    `json:"server_path"`
	Type      FolderType `json:"type"`

	// UnreadCount is computed from cached messages, never stored.
	UnreadCount int `json:"unread_count"`

	// MissingSince is set when the folder disappears from the server.
	// Cached messages are retained for a grace period before the folder
	// and its messages are purged.
	MissingSince *time.Time `json:"missing_since,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
