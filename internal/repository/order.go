package repository

// Pure ordering helpers shared by Reorder and the re-sequencing pass.  They
// are kept free of SQL so the permutation logic is testable on its own.

// newPositions validates a submitted ordering and returns, for each current
// rank, the position the element should move to.  order[j] = rank of the
// element that ends up at position j.  The ordering must cover every element
// exactly once; anything else fails with ErrInvalidOrder.
func newPositions(n int, order []int) ([]int, error) {
	if len(order) != n {
		return nil, ErrInvalidOrder
	}
	positions := make([]int, n)
	seen := make([]bool, n)
	for newPos, rank := range order {
		if rank < 0 || rank >= n || seen[rank] {
			return nil, ErrInvalidOrder
		}
		seen[rank] = true
		positions[rank] = newPos
	}
	return positions, nil
}

// denseUpdates maps rank -> new position for every element whose current
// position differs from its rank.  Input positions must be sorted.  An
// already dense layout produces an empty map, which makes the re-sequencing
// pass a no-op the second time around.
func denseUpdates(positions []int) map[int]int {
	updates := make(map[int]int)
	for rank, pos := range positions {
		if pos != rank {
			updates[rank] = rank
		}
	}
	return updates
}
