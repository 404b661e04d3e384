package xid

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	a := New("rcpt")
	b := New("rcpt")
	if !strings.HasPrefix(a, "rcpt-") {
		t.Fatalf("expected prefix, got %q", a)
	}
	if a == b {
		t.Fatalf("ids should not collide: %q", a)
	}

	parts := strings.Split(a, "-")
	if len(parts) != 3 {
		t.Fatalf("expected prefix-timestamp-random, got %q", a)
	}
	if len(parts[2]) != 10 {
		t.Fatalf("expected 10 hex chars of randomness, got %q", parts[2])
	}
}
