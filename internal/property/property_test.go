package property

import "testing"

func TestUserSourceStableAgainstDefaultOverwrite(t *testing.T) {
	s := NewSet()
	s.Set(BlockSize, 32768, Good, User)
	s.Set(BlockSize, 65536, Good, Default)

	p, ok := s.Get(BlockSize)
	if !ok {
		t.Fatal("expected property present")
	}
	if p.Value != 32768 {
		t.Fatalf("Value = %v, want 32768 (User source must be stable)", p.Value)
	}
}

func TestDefaultSourceMayReduceNotRaiseSurety(t *testing.T) {
	s := NewSet()
	s.Set(BlockSize, 32768, Good, User)
	s.Set(BlockSize, 99999, Bad, Default)

	p, _ := s.Get(BlockSize)
	if p.Surety != Bad {
		t.Fatalf("Surety = %v, want Bad (a later Default write may reduce surety)", p.Surety)
	}
	if p.Value != 32768 {
		t.Fatalf("Value = %v, want 32768 unchanged", p.Value)
	}
}

func TestDefaultCannotRaiseSuretyAboveExisting(t *testing.T) {
	s := NewSet()
	s.Set(BlockSize, 32768, Bad, User)
	s.Set(BlockSize, 99999, Good, Default)

	p, _ := s.Get(BlockSize)
	if p.Surety != Bad {
		t.Fatalf("Surety = %v, want Bad (unchanged; Default must not raise surety)", p.Surety)
	}
}

func TestNonUserSetReplacesFreely(t *testing.T) {
	s := NewSet()
	s.Set(Comment, "first", Good, Default)
	s.Set(Comment, "second", Good, Detected)

	p, _ := s.Get(Comment)
	if p.Value != "second" {
		t.Fatalf("Value = %v, want %q", p.Value, "second")
	}
}

func TestWarnings(t *testing.T) {
	s := NewSet()
	s.Warn("device capabilities page unavailable, permitting move")
	if len(s.Warnings()) != 1 {
		t.Fatalf("Warnings = %v, want 1 entry", s.Warnings())
	}
}
