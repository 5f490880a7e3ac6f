package model

import "time"

// Contact is an address-book entry.
type Contact struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`

	// Email is the primary address; Secondary holds any additional ones.
	Email     EmailAddress   `json:"email"`
	Secondary []EmailAddress `json:"secondary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ContactGroup is an ordered set of contacts belonging to an account.
// Membership references contacts by ID; deleting a group never deletes
// its member contacts.
type ContactGroup struct {
	ID          string   `json:"id"`
	AccountID   string   `json:"account_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	MemberIDs   []string `json:"member_ids"`

	CreatedAt time.Time `json:"created_at"`
}
