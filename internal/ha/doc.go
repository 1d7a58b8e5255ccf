// Package ha documents the clustered-consensus layer this engine does
// not implement. A future multi-supervisor deployment would need
// agreement on which supervisor owns a given run, which requires a
// consensus log; the tables below are where that log's state would
// live, recorded here so the schema has a home even though nothing
// writes to it yet.
//
// This package is intentionally empty of behavior. The single-process
// Supervisor in internal/supervisor is the only supported deployment
// shape; nothing in this repo reads or writes the tables named here.
//
//   - hard_state    — the consensus term, vote, and commit index a
//     Raft-style node would persist across restarts.
//   - raft_log       — the append-only replicated log of supervisor
//     decisions (enqueue, stop, dispatch) every node would apply in
//     order.
//   - snapshot       — a compacted point-in-time copy of run-state
//     store contents, letting a node catch up without replaying the
//     full log.
//   - membership     — the current set of supervisor nodes and their
//     addresses, itself replicated through the log like any other
//     decision.
//
// Reproducing this without a concrete target topology (how many
// supervisors, what network, what failure model) would mean inventing
// requirements rather than implementing a specification, so it stops
// here at documentation.
package ha
