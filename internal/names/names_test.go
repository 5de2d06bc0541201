package names

import (
	"strings"
	"testing"
)

func TestForSeedDeterministic(t *testing.T) {
	a := ForSeed("session-abc", 0)
	b := ForSeed("session-abc", 0)
	if a != b {
		t.Errorf("same seed produced different names: %q vs %q", a, b)
	}
	if !strings.Contains(a, "-") {
		t.Errorf("name %q is not adjective-animal", a)
	}
}

func TestForSeedAttemptChangesName(t *testing.T) {
	a := ForSeed("session-abc", 0)
	b := ForSeed("session-abc", 1)
	if a == b {
		t.Errorf("attempt bump did not change name: %q", a)
	}
}

func TestAllocateSkipsTaken(t *testing.T) {
	first := ForSeed("seed-x", 0)
	name, err := Allocate("seed-x", func(n string) (bool, error) {
		return n == first, nil
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if name == first {
		t.Errorf("Allocate returned taken name %q", name)
	}
}

func TestAllocateFallback(t *testing.T) {
	// Everything taken: expect a uuid-suffixed fallback.
	name, err := Allocate("seed-y", func(string) (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(strings.Split(name, "-")) < 3 {
		t.Errorf("fallback name %q lacks uuid suffix", name)
	}
}

func TestAllocateNeverReturnsCreator(t *testing.T) {
	name, err := Allocate(CreatorName, func(string) (bool, error) { return false, nil })
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if name == CreatorName {
		t.Error("Allocate returned the reserved creator name")
	}
}
