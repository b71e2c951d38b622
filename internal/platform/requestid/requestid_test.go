package requestid

import "testing"

func TestNew(t *testing.T) {
	a := New("runkv")
	b := New("runkv")
	if len(a) != 32 {
		t.Fatalf("New() = %q, want 32 hex chars", a)
	}
	if a == b {
		t.Fatalf("New() returned the same id twice: %q", a)
	}
}
