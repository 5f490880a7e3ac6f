package model

import "time"

// FilterField selects which part of a message a rule predicate examines.
type FilterField string

const (
	FieldSubject FilterField = "subject"
	FieldFrom    FilterField = "from"
	FieldTo      FilterField = "to"
	FieldBody    FilterField = "body"
)

// MatchType selects the comparison a rule predicate performs.
type MatchType string

const (
	MatchContains   MatchType = "contains"
	MatchEquals     MatchType = "equals"
	MatchStartsWith MatchType = "startswith"
	MatchEndsWith   MatchType = "endswith"
	MatchRegex      MatchType = "regex"
)

// ActionType identifies the effect a matching rule has on a message.
type ActionType string

const (
	ActionMarkAsRead   ActionType = "mark_as_read"
	ActionDelete       ActionType = "delete"
	ActionMoveToFolder ActionType = "move_to_folder"
	ActionAddTag       ActionType = "add_tag"
	ActionForward      ActionType = "forward"
)

// FilterAction is a tagged action variant. Arg carries the folder name for
// move_to_folder, the tag for add_tag, and the address for forward; it is
// empty otherwise.
type FilterAction struct {
	Type ActionType `json:"type"`
	Arg  string     `json:"arg,omitempty"`
}

// FilterRule is a user-defined predicate plus action, evaluated against
// newly ingested messages in Position order.
type FilterRule struct {
	ID        string      `json:"id"`
	AccountID string      `json:"account_id"`
	Name      string      `json:"name"`
	Field     FilterField `json:"field"`
	Match     MatchType   `json:"match"`

	// Pattern is the comparison operand; for regex rules it is the
	// pattern source, recompiled on load.
	Pattern       string `json:"pattern"`
	CaseSensitive bool   `json:"case_sensitive"`

	Action  FilterAction `json:"action"`
	Enabled bool         `json:"enabled"`

	// Position is the insertion order; evaluation follows it.
	Position int `json:"position"`

	CreatedAt time.Time `json:"created_at"`
}
