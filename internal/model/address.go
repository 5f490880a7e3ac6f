package model

// EmailAddress is a mail address with an optional display name.
type EmailAddress struct {
	// Name is the display name, possibly empty.
	Name string `json:"name,omitempty"`

	// Address is the bare address (local@domain).
	Address string `json:"address"`
}

// String renders the address for display: `"Name" <addr>` when a display
// name is present, the bare address otherwise.
func (a EmailAddress) String() string {
	if a.Name == "" {
		return a.Address
	}
	return `"` + a.Name + `" <` + a.Address + `>`
}

// Addresses extracts the bare address part of each entry.
func Addresses(list []EmailAddress) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}
