package crdt

import "sort"

// MapState is the full state of one key, used to roll back a local write.
type MapState[T any] struct {
	Value   T
	Stamp   ID
	Present bool
	Known   bool
}

type mapEntry[T any] struct {
	value   T
	stamp   ID
	present bool
}

// Map is a last-writer-wins map. Deletes are recorded as stamped tombstones
// so that an older set arriving late cannot resurrect the key.
type Map[T any] struct {
	entries map[string]*mapEntry[T]
}

// NewMap creates an empty map.
func NewMap[T any]() *Map[T] {
	return &Map[T]{entries: make(map[string]*mapEntry[T])}
}

// Set writes value under key if stamp wins.
func (m *Map[T]) Set(key string, value T, stamp ID) bool {
	e, ok := m.entries[key]
	if ok && !e.stamp.Less(stamp) {
		return false
	}
	m.entries[key] = &mapEntry[T]{value: value, stamp: stamp, present: true}
	return true
}

// Delete tombstones key if stamp wins. Returns true only if a live value
// was removed.
func (m *Map[T]) Delete(key string, stamp ID) bool {
	e, ok := m.entries[key]
	if ok && !e.stamp.Less(stamp) {
		return false
	}
	wasPresent := ok && e.present
	var zero T
	m.entries[key] = &mapEntry[T]{value: zero, stamp: stamp, present: false}
	return wasPresent
}

// Get returns the live value under key.
func (m *Map[T]) Get(key string) (T, bool) {
	e, ok := m.entries[key]
	if !ok || !e.present {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Has reports whether key holds a live value.
func (m *Map[T]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the live keys in sorted order.
func (m *Map[T]) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if e.present {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live keys.
func (m *Map[T]) Len() int {
	n := 0
	for _, e := range m.entries {
		if e.present {
			n++
		}
	}
	return n
}

// State captures key for later Restore.
func (m *Map[T]) State(key string) MapState[T] {
	e, ok := m.entries[key]
	if !ok {
		return MapState[T]{}
	}
	return MapState[T]{Value: e.value, Stamp: e.stamp, Present: e.present, Known: true}
}

// Restore puts key back to a captured state.
func (m *Map[T]) Restore(key string, st MapState[T]) {
	if !st.Known {
		delete(m.entries, key)
		return
	}
	m.entries[key] = &mapEntry[T]{value: st.Value, stamp: st.Stamp, present: st.Present}
}
