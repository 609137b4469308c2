// Package doc implements the replicated document: an ordered, nested file
// tree plus a flat map of file contents keyed by node id.
//
// ARCHITECTURE:
//
// Both containers are built from the crdt primitives. The tree is an RGA
// sequence of nodes; every folder owns a child sequence. Node names are
// last-writer-wins registers. File contents live in a last-writer-wins map
// of Text values.
//
// Mutation happens only inside Transact. A transaction records every op it
// applies together with an undo step, so a transaction whose function
// returns an error is rolled back completely and never observed. A committed
// transaction produces exactly one Update (its ops, for the transport) and
// exactly one Event (for local observers).
//
// Remote Updates go through ApplyUpdate, which integrates ops through the
// same code path. Ops whose dependencies have not arrived yet (a parent
// folder created by a third replica, an origin element, a text container)
// are parked and retried after every later integration.
//
// Notification is cooperative and non-reentrant: observers run after the
// document lock is released, in commit order. A handler that mutates the
// document opens a new transaction whose event is delivered after the
// current one finishes.
//
// Doc serializes mutations. A Transact or ApplyUpdate issued while another
// one is in flight fails with ErrTxnInProgress; callers that mutate from
// several goroutines must funnel through a single writer (see session).
package doc
