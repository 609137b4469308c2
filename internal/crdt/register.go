package crdt

// Register is a last-writer-wins value.
type Register[T any] struct {
	value T
	stamp ID
}

// NewRegister creates a register holding value written at stamp.
func NewRegister[T any](value T, stamp ID) *Register[T] {
	return &Register[T]{value: value, stamp: stamp}
}

// Get returns the current value.
func (r *Register[T]) Get() T {
	return r.value
}

// Stamp returns the ID of the winning write.
func (r *Register[T]) Stamp() ID {
	return r.stamp
}

// Set applies a write. It wins only if stamp orders after the current stamp.
func (r *Register[T]) Set(value T, stamp ID) bool {
	if !r.stamp.Less(stamp) {
		return false
	}
	r.value = value
	r.stamp = stamp
	return true
}

// Restore overwrites value and stamp unconditionally. Rollback only.
func (r *Register[T]) Restore(value T, stamp ID) {
	r.value = value
	r.stamp = stamp
}
