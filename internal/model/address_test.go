package model

import "testing"

func TestEmailAddressString(t *testing.T) {
	cases := []struct {
		addr EmailAddress
		want string
	}{
		{EmailAddress{Name: "Alice", Address: "alice@example.com"}, `"Alice" <alice@example.com>`},
		{EmailAddress{Address: "bob@example.com"}, "bob@example.com"},
		{EmailAddress{Name: "Ann Example", Address: "ann@example.com"}, `"Ann Example" <ann@example.com>`},
	}

	for _, tc := range cases {
		if got := tc.addr.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}

func TestAddresses(t *testing.T) {
	list := []EmailAddress{
		{Name: "Alice", Address: "alice@example.com"},
		{Address: "bob@example.com"},
	}

	got := Addresses(list)
	if len(got) != 2 || got[0] != "alice@example.com" || got[1] != "bob@example.com" {
		t.Fatalf("Addresses() = %v", got)
	}
}
