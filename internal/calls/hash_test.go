package calls

import (
	"strings"
	"testing"
)

func TestHashIdentifier(t *testing.T) {
	h := HashIdentifier("+351912345678")
	if len(h) != HashLen {
		t.Fatalf("expected %d chars, got %q", HashLen, h)
	}
	if h != HashIdentifier("+351912345678") {
		t.Fatalf("hash must be stable")
	}
	if h == HashIdentifier("+351912345679") || strings.ContainsAny(h, "+ ") {
		t.Fatalf("unexpected hash %q", h)
	}

	for raw, want := range map[string]string{
		DefaultCustomerName: DefaultCustomerName,
		UnknownIdentifier:   UnknownIdentifier,
		"  ":                UnknownIdentifier,
	} {
		if got := HashIdentifier(raw); got != want {
			t.Fatalf("HashIdentifier(%q) = %q, want %q", raw, got, want)
		}
	}
}
