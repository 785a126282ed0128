package api

import (
	"fmt"
	"sort"
)

// Graph is an immutable, validated set of nodes with inferred edges.
// Build resolves every input name to its producer once; the scheduler
// never re-resolves names. A Graph is shared, read-only, and reused
// across runs.
type Graph struct {
	name  string
	nodes []NodeSpec
	index map[string]int

	// producers maps an output name to the indexes of the nodes that
	// produce it. More than one producer is only accepted when all of
	// them are targets of a common gate.
	producers map[string][]int

	// consumers maps a value name to the indexes of the nodes that
	// list it among their inputs.
	consumers map[string][]int

	// gatedBy maps a node name to the indexes of the gates that list
	// it as a target. A gated node only becomes ready when one of its
	// gates selects it.
	gatedBy map[string][]int

	// sccOf holds the cycle component id per node, or -1 for nodes
	// outside any cycle.
	sccOf []int

	// closing maps a cycle component id to the value names that close
	// it (produced and consumed inside the same component). These are
	// the values a caller may seed at version 0 even though they have
	// a producer.
	closing map[int][]string

	// defaults holds the build-time effective defaults: a declared
	// default survives only when the value has no producer, or when it
	// closes a cycle (edge cancels default otherwise).
	defaults map[string]any

	// required lists value names some node consumes that no node
	// produces and no default covers. Callers must supply them.
	required []string

	// declaredInputs are value names the builder promised the caller
	// will (or may) supply, used to satisfy cycle initialization.
	declaredInputs map[string]bool

	hasCycles     bool
	hasGates      bool
	hasInterrupts bool
	hasAsync      bool
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	name     string
	defaults map[string]any
	inputs   map[string]bool
}

// WithName sets a human-readable graph name used in logs and checkpoints.
func WithName(name string) BuildOption {
	return func(c *buildConfig) { c.name = name }
}

// WithDefault declares a default value for an input name. A default on a
// value with an acyclic producer is ignored at build time (the edge wins);
// on a cycle-closing value it seeds the first iteration.
func WithDefault(name string, value any) BuildOption {
	return func(c *buildConfig) { c.defaults[name] = value }
}

// WithInput declares value names the caller supplies at run time. Cyclic
// values with neither a default nor a declared input fail the build with
// a DeadlockError.
func WithInput(names ...string) BuildOption {
	return func(c *buildConfig) {
		for _, n := range names {
			c.inputs[n] = true
		}
	}
}

// Build validates the node set and returns an immutable Graph. On any
// failure it returns a nil Graph and an error naming the offending
// node(s); no partially valid Graph ever escapes.
func Build(nodes []NodeSpec, opts ...BuildOption) (*Graph, error) {
	cfg := buildConfig{
		defaults: make(map[string]any),
		inputs:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Graph{
		name:           cfg.name,
		nodes:          make([]NodeSpec, len(nodes)),
		index:          make(map[string]int, len(nodes)),
		producers:      make(map[string][]int),
		consumers:      make(map[string][]int),
		gatedBy:        make(map[string][]int),
		closing:        make(map[int][]string),
		defaults:       make(map[string]any),
		declaredInputs: cfg.inputs,
	}
	copy(g.nodes, nodes)

	for i := range g.nodes {
		n := &g.nodes[i]
		n.Kind = n.kind()
		if n.Name == "" {
			return nil, &GraphConfigError{Msg: "node with empty name; every node needs a unique name"}
		}
		if n.Name == End {
			return nil, &GraphConfigError{Nodes: []string{n.Name}, Msg: "END is reserved; rename the node"}
		}
		if _, dup := g.index[n.Name]; dup {
			return nil, &GraphConfigError{Nodes: []string{n.Name}, Msg: "duplicate node name; rename one of them"}
		}
		g.index[n.Name] = i
		if err := checkSpec(n); err != nil {
			return nil, err
		}
	}

	for i := range g.nodes {
		n := &g.nodes[i]
		for _, out := range n.Outputs {
			g.producers[out] = append(g.producers[out], i)
		}
		for _, in := range n.Inputs {
			g.consumers[in] = append(g.consumers[in], i)
		}
		if n.IsGate() {
			g.hasGates = true
			for _, t := range n.Targets {
				if t == End {
					continue
				}
				if _, ok := g.index[t]; !ok {
					return nil, &InvalidRouteError{Node: n.Name, Target: t, Legal: nodeNames(g.nodes)}
				}
				g.gatedBy[t] = append(g.gatedBy[t], i)
			}
		}
		if n.Kind == KindInterrupt {
			g.hasInterrupts = true
		}
		if n.Async {
			g.hasAsync = true
		}
	}

	if err := g.validate(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// checkSpec enforces per-node shape rules before any edge is inferred.
func checkSpec(n *NodeSpec) error {
	switch n.Kind {
	case KindCompute:
		if n.Fn == nil {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: "compute node has no body; supply a NodeFunc"}
		}
		if len(n.Targets) > 0 {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: "compute node declares routing targets; use a route or branch node"}
		}
	case KindRoute:
		if n.Fn == nil {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: "route node has no body; supply a NodeFunc returning a target name"}
		}
		if len(n.Targets) == 0 {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: "route node declares no targets; list the legal target names (or END)"}
		}
	case KindBranch:
		if n.Fn == nil {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: "branch node has no body; supply a NodeFunc returning a bool"}
		}
		if len(n.Targets) != 2 {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: fmt.Sprintf("branch node declares %d targets; exactly two are required", len(n.Targets))}
		}
	case KindInterrupt:
		if n.Fn != nil {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: "interrupt node has a body; interrupts are bodiless, the caller supplies the response"}
		}
		if len(n.Inputs) != 1 || len(n.Outputs) != 1 {
			return &GraphConfigError{Nodes: []string{n.Name}, Msg: "interrupt node needs exactly one prompt input and one response output"}
		}
	default:
		return &GraphConfigError{Nodes: []string{n.Name}, Msg: fmt.Sprintf("unknown node kind %q", n.Kind)}
	}
	return nil
}

func nodeNames(nodes []NodeSpec) []string {
	names := make([]string, 0, len(nodes)+1)
	for i := range nodes {
		names = append(names, nodes[i].Name)
	}
	names = append(names, End)
	sort.Strings(names)
	return names
}

// Name returns the graph's display name.
func (g *Graph) Name() string { return g.name }

// Nodes returns the node specs in declaration order. Callers must treat
// the slice as read-only.
func (g *Graph) Nodes() []NodeSpec { return g.nodes }

// Node returns the spec for name.
func (g *Graph) Node(name string) (*NodeSpec, bool) {
	i, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return &g.nodes[i], true
}

// IsGated reports whether name appears in any gate's target set. Gated
// nodes run only when a gate selects them.
func (g *Graph) IsGated(name string) bool {
	return len(g.gatedBy[name]) > 0
}

// Produces reports whether any node produces the value name.
func (g *Graph) Produces(name string) bool {
	return len(g.producers[name]) > 0
}

// Defaults returns the effective build-time defaults. Read-only.
func (g *Graph) Defaults() map[string]any { return g.defaults }

// RequiredInputs returns the value names the caller must supply.
func (g *Graph) RequiredInputs() []string { return g.required }

// CycleSeed reports whether name closes a cycle and may therefore be
// seeded by the caller at version 0 despite having a producer.
func (g *Graph) CycleSeed(name string) bool {
	for _, vals := range g.closing {
		for _, v := range vals {
			if v == name {
				return true
			}
		}
	}
	return false
}

// UsesCycles reports whether the graph contains at least one cycle.
func (g *Graph) UsesCycles() bool { return g.hasCycles }

// UsesGates reports whether the graph contains route or branch nodes.
func (g *Graph) UsesGates() bool { return g.hasGates }

// UsesInterrupts reports whether the graph contains interrupt nodes.
func (g *Graph) UsesInterrupts() bool { return g.hasInterrupts }

// UsesAsyncNodes reports whether any node is marked Async.
func (g *Graph) UsesAsyncNodes() bool { return g.hasAsync }
