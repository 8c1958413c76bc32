package estimator

import "sort"

// WorkingSet is the ordered collection of observations still considered
// candidate inliers. It owns its storage; the caller's dataset is copied on
// construction and never mutated.
type WorkingSet[O any] struct {
	items []O
}

// NewWorkingSet copies dataset into a fresh working set.
func NewWorkingSet[O any](dataset []O) *WorkingSet[O] {
	items := make([]O, len(dataset))
	copy(items, dataset)
	return &WorkingSet[O]{items: items}
}

// Len returns the number of observations in the set.
func (w *WorkingSet[O]) Len() int {
	if w == nil {
		return 0
	}
	return len(w.items)
}

// At returns the i-th observation.
func (w *WorkingSet[O]) At(i int) O {
	return w.items[i]
}

// Items returns a copy of the observations in their current order.
func (w *WorkingSet[O]) Items() []O {
	out := make([]O, len(w.items))
	copy(out, w.items)
	return out
}

// view exposes the backing slice to the statistics step; callers must not
// retain or modify it.
func (w *WorkingSet[O]) view() []O {
	return w.items
}

// retain keeps items[i] where keep[i] is true, preserving order, and returns
// the number of removed observations. The survivors are written to a fresh
// buffer so earlier views stay untouched.
func (w *WorkingSet[O]) retain(keep []bool) int {
	kept := make([]O, 0, len(w.items))
	for i, item := range w.items {
		if keep[i] {
			kept = append(kept, item)
		}
	}
	removed := len(w.items) - len(kept)
	w.items = kept
	return removed
}

// sortBy stably reorders the set ascending by keys and applies the same
// permutation to keys.
func (w *WorkingSet[O]) sortBy(keys []float64) {
	perm := make([]int, len(w.items))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return keys[perm[a]] < keys[perm[b]]
	})

	items := make([]O, len(w.items))
	sorted := make([]float64, len(keys))
	for dst, src := range perm {
		items[dst] = w.items[src]
		sorted[dst] = keys[src]
	}
	w.items = items
	copy(keys, sorted)
}
