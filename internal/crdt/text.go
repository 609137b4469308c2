package crdt

import "strings"

// Text is a concurrently editable string: an RGA sequence of runes.
type Text struct {
	seq *Sequence[rune]
}

// NewText creates an empty text.
func NewText() *Text {
	return &Text{seq: NewSequence[rune]()}
}

// String renders the live runes.
func (t *Text) String() string {
	var b strings.Builder
	for _, e := range t.seq.Live() {
		b.WriteRune(e.Value)
	}
	return b.String()
}

// Len returns the number of live runes.
func (t *Text) Len() int {
	return t.seq.Len()
}

// Has reports whether the rune with id has been integrated.
func (t *Text) Has(id ID) bool {
	return t.seq.Has(id)
}

// OriginAt returns the origin for an insert at rune position pos.
func (t *Text) OriginAt(pos int) ID {
	return t.seq.OriginFor(pos)
}

// IntegrateRun inserts s after origin. Rune i gets start.Next(i) and follows
// rune i-1, so a run behaves like len(s) chained single inserts.
func (t *Text) IntegrateRun(start, origin ID, s string) (bool, error) {
	if t.seq.Has(start) {
		return false, nil
	}
	if !origin.IsZero() && !t.seq.Has(origin) {
		return false, ErrUnknownOrigin
	}
	prev := origin
	var i uint64
	for _, r := range s {
		id := start.Next(i)
		if _, err := t.seq.Integrate(id, prev, r); err != nil {
			return false, err
		}
		prev = id
		i++
	}
	return true, nil
}

// ExciseRun undoes IntegrateRun for a run of n runes starting at start.
func (t *Text) ExciseRun(start ID, n int) {
	for i := 0; i < n; i++ {
		t.seq.Excise(start.Next(uint64(i)))
	}
}

// IDsInRange returns the ids of count live runes starting at pos.
func (t *Text) IDsInRange(pos, count int) []ID {
	live := t.seq.Live()
	if pos < 0 || pos >= len(live) || count <= 0 {
		return nil
	}
	end := pos + count
	if end > len(live) {
		end = len(live)
	}
	ids := make([]ID, 0, end-pos)
	for _, e := range live[pos:end] {
		ids = append(ids, e.ID)
	}
	return ids
}

// Remove tombstones every id and returns the ones that were live. Unknown
// ids fail the whole call before any rune is touched.
func (t *Text) Remove(ids []ID) ([]ID, error) {
	for _, id := range ids {
		if !t.seq.Has(id) {
			return nil, ErrUnknownElement
		}
	}
	var removed []ID
	for _, id := range ids {
		if changed, _ := t.seq.Remove(id); changed {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// Restore clears tombstones on ids. Rollback only.
func (t *Text) Restore(ids []ID) {
	for _, id := range ids {
		t.seq.Restore(id)
	}
}
