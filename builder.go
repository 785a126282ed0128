package weave

import (
	"context"
	"fmt"

	"github.com/mlahtinen/weave/pkg/api"
)

// GraphBuilder provides a fluent API for defining graphs:
//
//	g, err := weave.New("summarize").
//	    Node("fetch", nil, []string{"doc"}, fetchDoc).
//	    Node("summarize", []string{"doc"}, []string{"summary"}, summarize).
//	    Input("url").
//	    Build()
//
//	res, err := eng.Run(ctx, g, map[string]any{"url": u})
type GraphBuilder struct {
	name  string
	nodes []api.NodeSpec
	opts  []api.BuildOption
}

// New creates a new graph builder with the given name.
func New(name string) *GraphBuilder {
	return &GraphBuilder{name: name}
}

// Name returns the graph name.
func (b *GraphBuilder) Name() string {
	return b.name
}

// Node appends a compute node reading inputs and writing outputs.
func (b *GraphBuilder) Node(name string, inputs, outputs []string, fn NodeFunc) *GraphBuilder {
	return b.add(api.NodeSpec{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
		Kind:    api.KindCompute,
		Fn:      fn,
	})
}

// AsyncNode appends a compute node that runs concurrently with the
// other async members of its generation.
func (b *GraphBuilder) AsyncNode(name string, inputs, outputs []string, fn NodeFunc) *GraphBuilder {
	return b.add(api.NodeSpec{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
		Kind:    api.KindCompute,
		Async:   true,
		Fn:      fn,
	})
}

// NodeWithRetry appends a compute node that re-invokes its body per the
// given retry policy before failing.
func (b *GraphBuilder) NodeWithRetry(name string, inputs, outputs []string, fn NodeFunc, retry RetryPolicy) *GraphBuilder {
	// Copy so callers may mutate their RetryPolicy after the call.
	r := retry
	return b.add(api.NodeSpec{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
		Kind:    api.KindCompute,
		Retry:   &r,
		Fn:      fn,
	})
}

// CachedNode appends a compute node whose outputs are marked cacheable
// for outer layers.
func (b *GraphBuilder) CachedNode(name string, inputs, outputs []string, fn NodeFunc) *GraphBuilder {
	return b.add(api.NodeSpec{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
		Kind:    api.KindCompute,
		Cache:   true,
		Fn:      fn,
	})
}

// Route appends a gate whose body returns the name of the next node to
// arm, chosen from targets (which may include weave.End).
func (b *GraphBuilder) Route(name string, inputs []string, targets []string, fn NodeFunc) *GraphBuilder {
	return b.add(api.NodeSpec{
		Name:    name,
		Inputs:  inputs,
		Kind:    api.KindRoute,
		Targets: targets,
		Fn:      fn,
	})
}

// Branch appends a two-way gate: a true return arms whenTrue, false
// arms whenFalse. Either target may be weave.End.
func (b *GraphBuilder) Branch(name string, inputs []string, whenTrue, whenFalse string, fn NodeFunc) *GraphBuilder {
	return b.add(api.NodeSpec{
		Name:    name,
		Inputs:  inputs,
		Kind:    api.KindBranch,
		Targets: []string{whenTrue, whenFalse},
		Fn:      fn,
	})
}

// Interrupt appends a bodyless node that halts the run once prompt has
// a value. Resuming with a value for response continues the run.
func (b *GraphBuilder) Interrupt(name, prompt, response string) *GraphBuilder {
	return b.add(api.NodeSpec{
		Name:    name,
		Inputs:  []string{prompt},
		Outputs: []string{response},
		Kind:    api.KindInterrupt,
	})
}

// Subgraph appends a compute node that runs child as a nested graph
// within the parent's run. The child's inputs are the node's args; its
// final values become the node's outputs.
func (b *GraphBuilder) Subgraph(name string, inputs, outputs []string, child *Graph) *GraphBuilder {
	return b.Node(name, inputs, outputs, func(ctx context.Context, args map[string]any) (any, error) {
		r, ok := api.SubgraphRunnerFrom(ctx)
		if !ok {
			return nil, fmt.Errorf("node %q: no subgraph runner in context", name)
		}
		vals, err := r.RunSubgraph(ctx, child, args)
		if err != nil {
			return nil, err
		}
		if len(outputs) == 1 {
			return vals[outputs[0]], nil
		}
		out := make(map[string]any, len(outputs))
		for _, o := range outputs {
			out[o] = vals[o]
		}
		return out, nil
	})
}

// Default declares a value seeded into the initial state when the
// caller does not supply it.
func (b *GraphBuilder) Default(name string, value any) *GraphBuilder {
	b.opts = append(b.opts, api.WithDefault(name, value))
	return b
}

// Input declares required run inputs the caller must supply.
func (b *GraphBuilder) Input(names ...string) *GraphBuilder {
	b.opts = append(b.opts, api.WithInput(names...))
	return b
}

// Build validates the accumulated specs and returns the immutable Graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	opts := append([]api.BuildOption{api.WithName(b.name)}, b.opts...)
	return api.Build(b.nodes, opts...)
}

// MustBuild is like Build but panics on error. Useful for graphs
// assembled at package init.
func (b *GraphBuilder) MustBuild() *Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}

func (b *GraphBuilder) add(spec api.NodeSpec) *GraphBuilder {
	if spec.Name == "" {
		panic("weave: node name must not be empty")
	}
	if spec.Fn == nil && spec.Kind != api.KindInterrupt {
		panic(fmt.Sprintf("weave: node %q has nil function", spec.Name))
	}
	b.nodes = append(b.nodes, spec)
	return b
}
