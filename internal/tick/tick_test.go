package tick

import "testing"

func TestAdvance(t *testing.T) {
	s := NewSource()
	if s.Now() != 0 {
		t.Fatalf("Now() = %d, want 0", s.Now())
	}
	if got := s.Advance(5); got != 5 {
		t.Fatalf("Advance(5) = %d, want 5", got)
	}
	if got := s.Advance(3); got != 8 {
		t.Fatalf("Advance(3) = %d, want 8", got)
	}
}

func TestCriticalSectionRestoresLevel(t *testing.T) {
	s := NewSource()
	if s.Level() != IntOn {
		t.Fatalf("initial level = %v, want IntOn", s.Level())
	}

	var sawOff bool
	s.CriticalSection(func() {
		sawOff = s.Level() == IntOff
	})

	if !sawOff {
		t.Fatal("interrupts were not disabled inside CriticalSection")
	}
	if s.Level() != IntOn {
		t.Fatalf("level after CriticalSection = %v, want IntOn", s.Level())
	}
}

func TestSetLevelReturnsPrevious(t *testing.T) {
	s := NewSource()
	old := s.SetLevel(IntOff)
	if old != IntOn {
		t.Fatalf("SetLevel returned %v, want IntOn", old)
	}
	if s.Level() != IntOff {
		t.Fatalf("Level() = %v, want IntOff", s.Level())
	}
}
