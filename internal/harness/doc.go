// Package harness runs multi-replica scenarios against an in-process
// reflector.
//
// Every replica is a real controller connected through transport.Local to
// a reflector.Hub driven by a manual clock, so scenarios are fully
// deterministic and can be compared against golden files.
//
// # Scenario Format
//
//	name: late_join
//	description: "A late joiner converges on the live state"
//	replicas: [a, b]
//	watch: ["M1:changed"]
//	steps:
//	  - join: a
//	  - advance: 5000
//	  - send: { from: a, to: M1, selector: add, args: [2] }
//	  - join: b
//	  - disconnect: b
//	  - reconnect: b
//	assertions:
//	  - type: converged
//	  - type: model_state
//	    replica: b
//	    model: M1
//	    expect: { count: 2 }
//
// Steps:
//
//   - join / reconnect: connect the replica and let it sync
//   - disconnect: drop the replica's connection
//   - advance: move the reflector clock by N ms and TICK
//   - send: a view-originated message, either by target/selector/args or
//     as a raw wire payload
//
// After every step all replicas are drained until no events remain.
//
// # Assertion Types
//
//   - converged: the named (default: all) replicas are live with equal
//     snapshot hashes and times
//   - model_state: a model's state contains the expected fields
//   - time: a replica's island time
//   - view_events: number (and optionally data) of events a replica's
//     watcher saw on a topic
//   - controller_state: a replica's controller state
//   - replay_verified: every stored checkpoint replays to its hash
package harness
