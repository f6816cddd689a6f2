package sched

import (
	"math"
	"testing"
)

func TestPlateauImprovementResetsPatience(t *testing.T) {
	p := NewPlateau(0.1, 0.1, 2, 1e-3, 0, 1e-7)

	for i, v := range []float64{0.5, 0.45, 0.4, 0.35} {
		if reduced, _ := p.Step(v); reduced {
			t.Errorf("step %d: reduced on improving value %v", i, v)
		}
	}
	if p.Best() != 0.35 {
		t.Errorf("Best() = %v, want 0.35", p.Best())
	}
	if p.LR() != 0.1 {
		t.Errorf("LR() = %v, want unchanged 0.1", p.LR())
	}
}

func TestPlateauTinyImprovementIsStale(t *testing.T) {
	p := NewPlateau(0.1, 0.1, 0, 1e-3, 0, 1e-7)

	p.Step(0.5)
	// Within threshold of best: counts as stale, patience 0 trips at once.
	if reduced, lr := p.Step(0.4995); !reduced || math.Abs(lr-0.01) > 1e-12 {
		t.Errorf("Step(0.4995) = (%v, %v), want reduction to 0.01", reduced, lr)
	}
}

func TestPlateauReductionOncePerPlateau(t *testing.T) {
	p := NewPlateau(1.0, 0.5, 1, 1e-3, 0, 1e-9)

	var reductions []int
	for i := 0; i < 7; i++ {
		if reduced, _ := p.Step(0.5); reduced {
			reductions = append(reductions, i)
		}
	}

	// Step 0 primes best; staleness then trips every patience+1 steps.
	want := []int{2, 4, 6}
	if len(reductions) != len(want) {
		t.Fatalf("reductions at %v, want %v", reductions, want)
	}
	for i := range want {
		if reductions[i] != want[i] {
			t.Fatalf("reductions at %v, want %v", reductions, want)
		}
	}
}

func TestPlateauCooldownSuppressesStaleness(t *testing.T) {
	p := NewPlateau(1.0, 0.5, 1, 1e-3, 2, 1e-9)

	var reductions []int
	for i := 0; i < 11; i++ {
		if reduced, _ := p.Step(0.5); reduced {
			reductions = append(reductions, i)
		}
	}

	// After each reduction two stale steps are absorbed by cooldown
	// before the patience counter starts again.
	want := []int{2, 6, 10}
	if len(reductions) != len(want) {
		t.Fatalf("reductions at %v, want %v", reductions, want)
	}
	for i := range want {
		if reductions[i] != want[i] {
			t.Fatalf("reductions at %v, want %v", reductions, want)
		}
	}
}

func TestPlateauCooldownElapsesThroughImprovement(t *testing.T) {
	p := NewPlateau(1.0, 0.5, 0, 1e-3, 2, 1e-9)

	var reductions []int
	for i, v := range []float64{0.5, 0.5, 0.4, 0.5, 0.5} {
		if reduced, _ := p.Step(v); reduced {
			reductions = append(reductions, i)
		}
	}

	// The improving step 2 consumes a cooldown tick like any other, so
	// staleness trips again at step 4, not a step later.
	want := []int{1, 4}
	if len(reductions) != len(want) {
		t.Fatalf("reductions at %v, want %v", reductions, want)
	}
	for i := range want {
		if reductions[i] != want[i] {
			t.Fatalf("reductions at %v, want %v", reductions, want)
		}
	}
	if p.Best() != 0.4 {
		t.Errorf("Best() = %v, want 0.4", p.Best())
	}
}

func TestPlateauNeverBelowFloor(t *testing.T) {
	p := NewPlateau(0.1, 0.1, 0, 1e-3, 0, 1e-3)

	p.Step(0.5)
	for i := 0; i < 50; i++ {
		_, lr := p.Step(0.5)
		if lr < 1e-3 {
			t.Fatalf("step %d: lr %v below floor 1e-3", i, lr)
		}
	}
	if p.LR() != 1e-3 {
		t.Errorf("LR() = %v, want pinned at floor 1e-3", p.LR())
	}

	// At the floor further staleness reports no reduction.
	if reduced, _ := p.Step(0.5); reduced {
		t.Error("reduction reported while already at floor")
	}
}
