package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PrefixTransaction)
	if !strings.HasPrefix(id, "txn_") {
		t.Errorf("expected txn_ prefix, got %q", id)
	}
	if len(id) != len("txn_")+24 {
		t.Errorf("expected 24 hex chars after prefix, got %q", id)
	}
}

func TestWithPrefix_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix(PrefixContract)
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestHex(t *testing.T) {
	if got := Hex(16); len(got) != 32 {
		t.Errorf("Hex(16) should produce 32 chars, got %d", len(got))
	}
}
