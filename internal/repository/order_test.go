package repository

import (
	"errors"
	"testing"
)

func TestNewPositionsValidPermutation(t *testing.T) {
	// Element at rank 2 moves to position 0, rank 0 to 1, rank 1 to 2.
	positions, err := newPositions(3, []int{2, 0, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 0}
	for i := range want {
		if positions[i] != want[i] {
			t.Fatalf("positions = %v, want %v", positions, want)
		}
	}
}

func TestNewPositionsIdentity(t *testing.T) {
	positions, err := newPositions(3, []int{0, 1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, p := range positions {
		if p != i {
			t.Fatalf("identity order must not move anything, got %v", positions)
		}
	}
}

func TestNewPositionsRejectsBadInput(t *testing.T) {
	cases := map[string][]int{
		"out of range":  {0, 1, 3},
		"negative":      {0, -1, 2},
		"duplicate":     {0, 0, 1},
		"too short":     {0, 1},
		"too long":      {0, 1, 2, 3},
		"empty vs some": {},
	}
	for name, order := range cases {
		if _, err := newPositions(3, order); !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("%s: expected ErrInvalidOrder, got %v", name, err)
		}
	}
}

func TestNewPositionsEmptyLayout(t *testing.T) {
	positions, err := newPositions(0, nil)
	if err != nil {
		t.Fatalf("empty layout must reorder without error, got %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("expected no positions, got %v", positions)
	}
}

func TestDenseUpdatesFillsGaps(t *testing.T) {
	// Positions after a delete: 0, 2, 5 -> ranks 1 and 2 need updates.
	updates := denseUpdates([]int{0, 2, 5})
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %v", updates)
	}
	if updates[1] != 1 || updates[2] != 2 {
		t.Fatalf("unexpected updates %v", updates)
	}
}

func TestDenseUpdatesIdempotent(t *testing.T) {
	first := denseUpdates([]int{3, 7, 9})
	if len(first) != 3 {
		t.Fatalf("expected every position to move, got %v", first)
	}
	// Apply the updates, then run the pass again: it must be a no-op.
	applied := []int{first[0], first[1], first[2]}
	if second := denseUpdates(applied); len(second) != 0 {
		t.Fatalf("second pass must be a no-op, got %v", second)
	}
}

func TestDenseUpdatesEmpty(t *testing.T) {
	if updates := denseUpdates(nil); len(updates) != 0 {
		t.Fatalf("empty layout must produce no updates, got %v", updates)
	}
}
