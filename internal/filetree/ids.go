package filetree

import (
	"github.com/oklog/ulid/v2"
)

// IDGenerator issues fresh node ids. Ids must be unique across every
// replica of a workspace and are never reused.
type IDGenerator interface {
	Generate() string
}

// ULIDGenerator issues ULIDs: 128-bit, lexically sortable by creation time,
// with enough randomness that replicas need no coordination.
//
// Thread-safety: safe for concurrent use.
type ULIDGenerator struct{}

// Generate returns a new ULID string.
func (ULIDGenerator) Generate() string {
	return ulid.Make().String()
}
