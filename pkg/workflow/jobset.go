package workflow

import "sort"

// JobSet is a set of job names. Sets returned by Status are independent
// copies owned by the caller.
type JobSet map[string]struct{}

// NewJobSet builds a set from names.
func NewJobSet(names ...string) JobSet {
	s := make(JobSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether name is in the set.
func (s JobSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts name into the set.
func (s JobSet) Add(name string) {
	s[name] = struct{}{}
}

// Remove deletes name from the set. Removing an absent name is a no-op.
func (s JobSet) Remove(name string) {
	delete(s, name)
}

// Len returns the number of names.
func (s JobSet) Len() int { return len(s) }

// Sorted returns the names in ascending order.
func (s JobSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same names.
func (s JobSet) Equal(other JobSet) bool {
	if len(s) != len(other) {
		return false
	}
	for n := range s {
		if !other.Has(n) {
			return false
		}
	}
	return true
}
