package filter

import "fmt"

// Stack is an ordered collection of active filters. At most one filter of
// each type is active at a time; adding a filter whose type is already
// present replaces the existing one in place, keeping its position.
//
// Stack is not safe for concurrent use; the owning player serializes access.
type Stack struct {
	filters []Filter
}

// Add activates f. If a filter of the same type is already active it is
// replaced in place, otherwise f is appended.
func (s *Stack) Add(f Filter) {
	for i, existing := range s.filters {
		if existing.Type() == f.Type() {
			s.filters[i] = f
			return
		}
	}
	s.filters = append(s.filters, f)
}

// Remove deactivates the filter of the given type. Returns ErrNotPresent when
// no filter of that type is active.
func (s *Stack) Remove(t Type) error {
	for i, existing := range s.filters {
		if existing.Type() == t {
			s.filters = append(s.filters[:i], s.filters[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotPresent, t)
}

// Get returns the active filter of the given type, if any.
func (s *Stack) Get(t Type) (Filter, bool) {
	for _, existing := range s.filters {
		if existing.Type() == t {
			return existing, true
		}
	}
	return nil, false
}

// Has reports whether a filter of the given type is active.
func (s *Stack) Has(t Type) bool {
	_, ok := s.Get(t)
	return ok
}

// Reset deactivates all filters.
func (s *Stack) Reset() {
	s.filters = nil
}

// Len returns the number of active filters.
func (s *Stack) Len() int { return len(s.filters) }

// Filters returns the active filters in insertion order. The returned slice
// is a copy.
func (s *Stack) Filters() []Filter {
	out := make([]Filter, len(s.filters))
	copy(out, s.filters)
	return out
}

// Timescale returns the active timescale filter, or a neutral timescale when
// none is active. Players use it to derive the playback rate.
func (s *Stack) Timescale() Timescale {
	if f, ok := s.Get(TypeTimescale); ok {
		return f.(Timescale)
	}
	return Timescale{Speed: 1, Pitch: 1, Rate: 1}
}

// Payload combines all active filters into the single wire object sent to the
// node, keyed by filter type. An empty stack yields an empty object, which
// clears all filters node-side.
func (s *Stack) Payload() map[string]any {
	out := make(map[string]any, len(s.filters))
	for _, f := range s.filters {
		out[string(f.Type())] = f.payload()
	}
	return out
}
