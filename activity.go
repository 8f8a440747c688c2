package idlez

// activity is one outstanding unit of in-flight work. Identity is the
// id: created by a push, destroyed by the matching pop, never reused.
type activity struct {
	span *ActiveSpan // nil for bookkeeping-only activities
	name string
	id   uint64
}

// registry maps activity ids to outstanding activities. An id is present
// iff exactly one push for it has not yet been popped; cardinality is
// the sole driver of idle detection.
type registry map[uint64]*activity

func (r registry) add(a *activity) {
	r[a.id] = a
}

// remove deletes and returns the activity, reporting whether it was
// present. Removing an unknown id is not an error.
func (r registry) remove(id uint64) (*activity, bool) {
	a, ok := r[id]
	if ok {
		delete(r, id)
	}
	return a, ok
}

func (r registry) empty() bool {
	return len(r) == 0
}
