package guuid

import "testing"

func TestNewProducesDistinctValues(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a == b {
		t.Fatalf("two calls to New produced the same GUUID: %s", a.String())
	}
}

func TestStringIsLowerHex32(t *testing.T) {
	g, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := g.String()
	if len(s) != 32 {
		t.Fatalf("String() length = %d, want 32: %q", len(s), s)
	}
	for _, r := range s {
		isLowerHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
		if !isLowerHex {
			t.Fatalf("String() contains non-lowercase-hex rune %q: %q", r, s)
		}
	}
}
