// Package harness runs multi-replica convergence scenarios.
//
// A scenario names a set of replicas, a setup phase and a flow of steps.
// Each step either performs a file tree or text operation on one replica,
// or delivers pending updates between replicas. Delivery is explicit, so a
// scenario controls exactly which edits are concurrent.
//
// # Scenario Format
//
//	name: delete_folder_during_edit
//	description: "A folder delete wins over a concurrent edit inside it"
//	replicas: [a, b]
//	setup:
//	  - {replica: a, op: create, name: src, folder: true, as: src}
//	  - {replica: a, op: create, parent: src, name: notes.txt, as: notes}
//	flow:
//	  - {replica: b, op: insert_text, target: notes, pos: 0, text: hello}
//	  - {replica: a, op: delete, target: src}
//	  - {sync: true}
//	assertions:
//	  - type: converged
//	  - type: content_absent
//	    target: notes
//
// Setup steps are followed by a full sync and every replica is marked
// synced, so the flow starts from a shared state. Names given with "as"
// can be used wherever a node id is expected.
//
// # Assertion Types
//
//   - converged: every replica has the same tree and contents
//   - snapshot: a replica's tree matches the expected names and kinds
//   - content_present / content_absent: a file has (or lacks) content
//   - view_state: open tabs and active tab of a replica
//   - event_count: number of document events a replica emitted
//
// # Determinism
//
// Replica ids are the replica names and node ids come from
// testutil.SequentialIDs prefixed with the replica name, so a scenario
// produces the same trace and final state on every run. That output is
// what golden files capture.
package harness
