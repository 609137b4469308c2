// Package crdt provides the replicated data primitives the document store is
// built on.
//
// Every operation is stamped with an ID drawn from a per-replica Lamport
// Clock. IDs are totally ordered (clock first, replica second), which is what
// lets concurrent edits resolve the same way on every replica:
//
//   - Sequence: RGA list. Inserts name the element they follow (the origin);
//     concurrent inserts after the same origin are ordered by descending ID.
//     Deletes leave tombstones so late inserts still find their origin.
//   - Register: last-writer-wins value.
//   - Map: last-writer-wins keyed values with delete tombstones.
//   - Text: a Sequence of runes.
//
// All integrations are idempotent. Re-inserting a known ID or re-deleting a
// tombstone is a no-op, so updates may be delivered more than once.
//
// None of the types in this package are safe for concurrent use. The owning
// document serializes access.
package crdt
