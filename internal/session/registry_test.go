//internal/session/registry_test.go
package session

import (
	"strings"
	"testing"
)

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		if len(id) != idLen {
			t.Fatalf("Length mismatch: got %d, want %d", len(id), idLen)
		}
		for _, c := range id {
			if !strings.ContainsRune(idAlphabet, c) {
				t.Fatalf("Invalid character %q in id %s", c, id)
			}
		}
		if seen[id] {
			t.Fatalf("Duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestRegistryInsertGetRemove(t *testing.T) {
	r := NewRegistry()
	s := &Session{id: "abc", registry: r}

	if err := r.Insert(s); err != nil {
		t.Fatal(err)
	}
	if r.Get("abc") != s {
		t.Error("Get should return inserted session")
	}
	if r.Len() != 1 {
		t.Errorf("Len mismatch: got %d, want 1", r.Len())
	}

	if err := r.Insert(&Session{id: "abc"}); err != ErrIDCollision {
		t.Errorf("Expected ErrIDCollision, got %v", err)
	}

	r.Remove("abc")
	if r.Get("abc") != nil {
		t.Error("Get after Remove should return nil")
	}
	if r.Len() != 0 {
		t.Errorf("Len after Remove mismatch: got %d", r.Len())
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Insert(&Session{id: id, registry: r}); err != nil {
			t.Fatal(err)
		}
	}

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot size mismatch: got %d, want 3", len(snap))
	}

	r.Remove("a")
	if len(snap) != 3 {
		t.Error("Snapshot should be independent of later mutation")
	}
}
