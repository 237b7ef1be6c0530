package client

import "sort"

// EntityTracker diffs successive authoritative states to find which
// entities appeared and which vanished. Interpolation buffer teardown
// and join/leave reporting both key off these transitions.
type EntityTracker struct {
	known map[uint32]bool
}

func NewEntityTracker() *EntityTracker {
	return &EntityTracker{known: make(map[uint32]bool)}
}

// Diff compares the current id set against the previous call's and
// returns the newly appeared and newly vanished ids in ascending order.
func (t *EntityTracker) Diff(current []uint32) (appeared, vanished []uint32) {
	cur := make(map[uint32]bool, len(current))
	for _, id := range current {
		cur[id] = true
		if !t.known[id] {
			appeared = append(appeared, id)
			t.known[id] = true
		}
	}

	for id := range t.known {
		if !cur[id] {
			vanished = append(vanished, id)
			delete(t.known, id)
		}
	}

	sort.Slice(appeared, func(i, j int) bool { return appeared[i] < appeared[j] })
	sort.Slice(vanished, func(i, j int) bool { return vanished[i] < vanished[j] })
	return appeared, vanished
}

// Known reports whether an entity was present in the last diff.
func (t *EntityTracker) Known(id uint32) bool {
	return t.known[id]
}

// Forget drops one entity so an out-of-band departure is not reported
// again as vanished on the next diff.
func (t *EntityTracker) Forget(id uint32) {
	delete(t.known, id)
}

// Clear forgets every tracked entity.
func (t *EntityTracker) Clear() {
	t.known = make(map[uint32]bool)
}
