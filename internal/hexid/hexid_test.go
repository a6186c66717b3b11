package hexid

import (
	"regexp"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()
	if !regexp.MustCompile(`^[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("expected 8 lowercase hex chars, got %q", id)
	}
}

func TestPrefixed(t *testing.T) {
	if id := Prefixed("r"); !regexp.MustCompile(`^r-[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("Prefixed(r) = %q", id)
	}
	if id := Prefixed(""); len(id) != 8 {
		t.Fatalf("Prefixed(\"\") = %q", id)
	}
}

func TestNewUniqueness(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate ID after %d iterations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}
