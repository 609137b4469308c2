package crdt

import "errors"

var (
	// ErrUnknownOrigin is returned when an insert names an origin the
	// sequence has not integrated yet.
	ErrUnknownOrigin = errors.New("crdt: unknown origin")

	// ErrUnknownElement is returned when a delete names an element the
	// sequence has not integrated yet.
	ErrUnknownElement = errors.New("crdt: unknown element")
)

// Element is one slot of a Sequence. Deleted elements stay in place as
// tombstones.
type Element[T any] struct {
	ID      ID
	Origin  ID
	Value   T
	Deleted bool
}

// Sequence is an RGA ordered list.
type Sequence[T any] struct {
	elems []*Element[T]
	byID  map[ID]*Element[T]
}

// NewSequence creates an empty sequence.
func NewSequence[T any]() *Sequence[T] {
	return &Sequence[T]{byID: make(map[ID]*Element[T])}
}

// Has reports whether id has been integrated (deleted or not).
func (s *Sequence[T]) Has(id ID) bool {
	_, ok := s.byID[id]
	return ok
}

// Lookup returns the element for id, including tombstones.
func (s *Sequence[T]) Lookup(id ID) (*Element[T], bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Integrate inserts value with the given id immediately after origin,
// skipping concurrent inserts with a greater ID. Returns false without error
// if id is already present.
func (s *Sequence[T]) Integrate(id, origin ID, value T) (bool, error) {
	if s.Has(id) {
		return false, nil
	}
	pos := 0
	if !origin.IsZero() {
		idx := s.indexOf(origin)
		if idx < 0 {
			return false, ErrUnknownOrigin
		}
		pos = idx + 1
	}
	for pos < len(s.elems) && id.Less(s.elems[pos].ID) {
		pos++
	}

	e := &Element[T]{ID: id, Origin: origin, Value: value}
	s.elems = append(s.elems, nil)
	copy(s.elems[pos+1:], s.elems[pos:])
	s.elems[pos] = e
	s.byID[id] = e
	return true, nil
}

// Remove tombstones the element with id. Returns false without error if the
// element is already deleted.
func (s *Sequence[T]) Remove(id ID) (bool, error) {
	e, ok := s.byID[id]
	if !ok {
		return false, ErrUnknownElement
	}
	if e.Deleted {
		return false, nil
	}
	e.Deleted = true
	return true, nil
}

// Restore clears the tombstone on id. Used to roll back a local delete.
func (s *Sequence[T]) Restore(id ID) {
	if e, ok := s.byID[id]; ok {
		e.Deleted = false
	}
}

// Excise physically drops id from the sequence. Used to roll back a local
// insert that was never shipped to another replica.
func (s *Sequence[T]) Excise(id ID) {
	idx := s.indexOf(id)
	if idx < 0 {
		return
	}
	s.elems = append(s.elems[:idx], s.elems[idx+1:]...)
	delete(s.byID, id)
}

// Len returns the number of live elements.
func (s *Sequence[T]) Len() int {
	n := 0
	for _, e := range s.elems {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// At returns the i-th live element.
func (s *Sequence[T]) At(i int) (*Element[T], bool) {
	if i < 0 {
		return nil, false
	}
	for _, e := range s.elems {
		if e.Deleted {
			continue
		}
		if i == 0 {
			return e, true
		}
		i--
	}
	return nil, false
}

// OriginFor returns the origin an insert at live position i must name:
// the live element at i-1, or the zero ID for the head.
func (s *Sequence[T]) OriginFor(i int) ID {
	if i <= 0 {
		return ID{}
	}
	if e, ok := s.At(i - 1); ok {
		return e.ID
	}
	if last, ok := s.lastLive(); ok {
		return last.ID
	}
	return ID{}
}

// Live returns the live elements in order.
func (s *Sequence[T]) Live() []*Element[T] {
	out := make([]*Element[T], 0, len(s.elems))
	for _, e := range s.elems {
		if !e.Deleted {
			out = append(out, e)
		}
	}
	return out
}

// All returns every element including tombstones, in order.
func (s *Sequence[T]) All() []*Element[T] {
	out := make([]*Element[T], len(s.elems))
	copy(out, s.elems)
	return out
}

func (s *Sequence[T]) lastLive() (*Element[T], bool) {
	for i := len(s.elems) - 1; i >= 0; i-- {
		if !s.elems[i].Deleted {
			return s.elems[i], true
		}
	}
	return nil, false
}

func (s *Sequence[T]) indexOf(id ID) int {
	if _, ok := s.byID[id]; !ok {
		return -1
	}
	for i, e := range s.elems {
		if e.ID == id {
			return i
		}
	}
	return -1
}
