package api

import (
	"context"
	"time"
)

// End is the terminal gate target. A route or branch that resolves to End
// stops feeding its cycle; the run completes once no node is ready.
const End = "END"

// NodeKind classifies what a node's return value means to the scheduler.
type NodeKind string

const (
	// KindCompute is a plain computation: inputs in, value(s) out.
	KindCompute NodeKind = "compute"

	// KindRoute is a gate that returns the name of the next node to run
	// (or End) from a fixed legal-target set.
	KindRoute NodeKind = "route"

	// KindBranch is a two-way gate: true selects Targets[0], false
	// selects Targets[1].
	KindBranch NodeKind = "branch"

	// KindInterrupt has no body. It becomes ready once its prompt input
	// has a value, halting the run until a caller supplies the response.
	KindInterrupt NodeKind = "interrupt"
)

// NodeFunc is the body of a node. args holds the node's declared inputs
// by name. The returned value is applied to the run state under the
// node's output name; a node with several outputs returns a
// map[string]any keyed by output name.
//
// A NodeFunc may instead return a Stream or a receive-only channel; the
// scheduler drains it and applies the accumulated value (see Stream).
type NodeFunc func(ctx context.Context, args map[string]any) (any, error)

// Stream is an optional incremental return shape for node bodies.
// The scheduler drains it to completion, forwarding each chunk to the
// observer's side channel, and applies the accumulated result as the
// node's single final output: chunks that are all strings are
// concatenated, anything else accumulates into a []any.
type Stream interface {
	// Next returns the next chunk. ok=false means the stream is done;
	// a non-nil error fails the node.
	Next(ctx context.Context) (chunk any, ok bool, err error)
}

// RetryPolicy controls how a node body is retried when it returns an
// error. MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// Backoff is the delay between failed attempts; zero retries immediately.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NodeSpec is the immutable description of one computation unit. Specs
// are plain data; the engine never inspects node bodies beyond calling Fn.
type NodeSpec struct {
	// Name is unique within a Graph.
	Name string

	// Inputs are the value names this node consumes, in declaration order.
	Inputs []string

	// Outputs are the value names this node produces. Gates may carry
	// data outputs alongside their routing decision.
	Outputs []string

	// Kind defaults to KindCompute when empty.
	Kind NodeKind

	// Targets is the legal routing set for route/branch nodes: node
	// names or End. Branch nodes carry exactly two.
	Targets []string

	// Cache marks the node's outputs as eligible for caching by outer
	// layers. The engine records it but attaches no behavior.
	Cache bool

	// Async nodes within one generation run concurrently; synchronous
	// members run sequentially after them.
	Async bool

	// Retry, when set, re-invokes a failed body before failing the step.
	Retry *RetryPolicy

	// Fn is the node body. Interrupt nodes have none.
	Fn NodeFunc
}

// kind returns the node kind with the compute default applied.
func (n *NodeSpec) kind() NodeKind {
	if n.Kind == "" {
		return KindCompute
	}
	return n.Kind
}

// IsGate reports whether the node's return value is a routing decision.
func (n *NodeSpec) IsGate() bool {
	k := n.kind()
	return k == KindRoute || k == KindBranch
}

// produces reports whether name is among the node's declared outputs.
func (n *NodeSpec) produces(name string) bool {
	for _, out := range n.Outputs {
		if out == name {
			return true
		}
	}
	return false
}
