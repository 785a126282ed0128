// Package weave provides an embeddable reactive graph engine for Go.
//
// Weave is designed for backend services that run multi-step pipelines
// over shared values: agent loops, document processing, approval flows,
// any computation naturally expressed as nodes reading and writing named
// state. It runs fully in Go, supports multiple persistence backends,
// and integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The Weave programming model is intentionally small:
//
//  1. Graph
//  2. NodeSpec / NodeFunc
//  3. Engine
//  4. State and versions
//  5. Checkpoints
//
// # Graph
//
// A Graph is an immutable, validated set of nodes wired by the value
// names they read and write. There are no explicit edges: if node B
// declares an input that node A declares as an output, B runs after A.
// Validation happens once at Build time and catches duplicate names,
// unresolvable routes, cycles with no exit, and values no one produces.
//
// Graphs are assembled either from NodeSpec slices via BuildGraph or
// with the fluent GraphBuilder:
//
//	g, err := weave.New("review").
//	    Node("draft", []string{"topic"}, []string{"text"}, draft).
//	    Branch("check", []string{"text"}, "publish", weave.End, check).
//	    Node("publish", []string{"text"}, nil, publish).
//	    Input("topic").
//	    Build()
//
// # Execution model
//
// The engine runs a graph in generations. Each generation it computes
// the ready set (nodes whose inputs are present and fresher than what
// the node last consumed, or that hold a routing token from a gate),
// executes those nodes, and applies their outputs as new value
// versions. Writing a value re-readies its consumers, which is how
// cycles iterate; a gate routing to End stops feeding its loop and the
// run completes once nothing is ready.
//
// Two nodes writing the same value in one generation is a conflict and
// aborts the run before either executes. Graphs that want fan-in
// instead route through a gate.
//
// # Engine
//
// The Engine executes graphs and persists their progress:
//
//   - start runs, with idempotent workflow ids and reuse policies
//   - pause at interrupt nodes and resume with a response
//   - recover crashed runs from the latest checkpoint, replaying
//     completed steps from recorded outputs instead of re-invoking them
//
// Engines can be backed by different stores:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//
// # State and versions
//
// Run state maps value names to versioned values. A node is stale, and
// therefore ready, when some input's version is newer than what the
// node consumed on its last execution. Node bodies never touch the
// store; they receive their declared inputs as a map and return their
// outputs, and the engine does the rest.
//
// # Checkpoints
//
// Every step's outputs are recorded before the run advances, and a
// checkpoint snapshots the full state at each iteration boundary, at
// interrupts, and at terminal status. Resume loads the latest
// checkpoint and replays forward; a step whose outputs were recorded is
// never run twice, and a step that started but never completed runs
// again. Durability modes trade safety for speed (sync, async, exit).
//
// For runnable programs, see the /examples directory.
package weave
