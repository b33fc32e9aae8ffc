package ids

import "testing"

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := New()
	seen := map[string]struct{}{prev: {}}
	for i := 0; i < 1000; i++ {
		id := New()
		if id <= prev {
			t.Fatalf("ids not monotonic: %s after %s", id, prev)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestSecretLength(t *testing.T) {
	s, err := Secret(32)
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 43 {
		t.Fatalf("expected 43 chars for 32 bytes, got %d", len(s))
	}
	other, _ := Secret(32)
	if s == other {
		t.Fatal("expected distinct secrets")
	}
}
