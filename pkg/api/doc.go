// Package api holds the public types of the weave workflow engine:
// node specs, graph construction and validation, the versioned run
// state, checkpoint records, run results, and the observer contract.
//
// Most applications import the root weave package, which re-exports
// everything here and adds the fluent GraphBuilder plus engine
// constructors. Import pkg/api directly when writing a custom
// Checkpointer backend or an Observer.
//
// # Model
//
// A NodeSpec names a pure computation with declared input and output
// value names. Build infers edges by matching output names to input
// names, validates the result once (duplicate names, routing targets,
// cycle termination, cycle seeding, output conflicts), and returns an
// immutable Graph that is reused across runs.
//
// A State maps value names to versioned values. A node is ready when
// all of its inputs exist and at least one is newer than what the node
// last consumed; a node's own previous output never counts (the
// sole-producer rule), so accumulators do not re-trigger themselves.
// Gates (route and branch nodes) arm their selected target with a
// control token; unselected targets stay out of the ready set even when
// their data inputs are present.
//
// StepSnapshot and Checkpoint are the durable records a Checkpointer
// persists: one snapshot per node execution, sealed atomically with its
// outputs, and one checkpoint per generation boundary, interrupt, or
// terminal state.
package api
