package api

import "context"

// Engine runs graphs against a checkpoint store.
type Engine interface {
	// Run executes g with the given inputs until completion, failure,
	// or an interrupt. The workflow id (from WithWorkflowID, generated
	// when absent) is an idempotency key governed by the reuse policy.
	Run(ctx context.Context, g *Graph, inputs map[string]any, opts ...RunOption) (*RunResult, error)

	// Resume restores the workflow's latest checkpoint and continues.
	// inputs merge over the restored values with explicit inputs
	// winning; an interrupted run expects the interrupt node's response
	// output among them. Completed steps are replayed from their
	// recorded outputs, never re-invoked.
	Resume(ctx context.Context, g *Graph, workflowID string, inputs map[string]any, opts ...RunOption) (*RunResult, error)

	// LoadCheckpoint fetches a checkpoint by workflow id; empty id
	// means latest.
	LoadCheckpoint(ctx context.Context, workflowID, id string) (*Checkpoint, error)

	// ListSteps returns a run's step snapshots in creation order.
	ListSteps(ctx context.Context, runID string) ([]StepSnapshot, error)
}

// SubgraphRunner executes a child graph inside the parent's run: same
// checkpointer, step ids prefixed with the parent step's id. The
// scheduler injects one into the context passed to every node body.
type SubgraphRunner interface {
	RunSubgraph(ctx context.Context, g *Graph, inputs map[string]any) (map[string]any, error)
}

type contextKey string

const subgraphRunnerKey contextKey = "weave.subgraph_runner"

// WithSubgraphRunner returns a context carrying r. Used by the engine;
// node bodies normally only call SubgraphRunnerFrom.
func WithSubgraphRunner(ctx context.Context, r SubgraphRunner) context.Context {
	return context.WithValue(ctx, subgraphRunnerKey, r)
}

// SubgraphRunnerFrom extracts the SubgraphRunner the engine placed in
// the node's context.
func SubgraphRunnerFrom(ctx context.Context) (SubgraphRunner, bool) {
	r, ok := ctx.Value(subgraphRunnerKey).(SubgraphRunner)
	return r, ok
}
