package api

import (
	"sort"
)

// validate runs the whole-graph checks after per-node shape checks and
// edge inference. Order matters: self-reference and target resolution
// have already run, so cycle analysis can assume a well-formed edge set.
func (g *Graph) validate(cfg buildConfig) error {
	if err := g.checkSelfReference(); err != nil {
		return err
	}

	adj := g.adjacency()
	sccs := tarjan(len(g.nodes), adj)
	g.sccOf = make([]int, len(g.nodes))
	for i := range g.sccOf {
		g.sccOf[i] = -1
	}

	cycleID := 0
	for _, comp := range sccs {
		if !isCycle(comp, adj) {
			continue
		}
		g.hasCycles = true
		for _, i := range comp {
			g.sccOf[i] = cycleID
		}
		if err := g.checkCycleExit(cycleID, comp); err != nil {
			return err
		}
		if err := g.checkCycleSeed(cycleID, comp, cfg); err != nil {
			return err
		}
		cycleID++
	}

	if err := g.checkSharedOutputs(); err != nil {
		return err
	}

	g.resolveDefaults(cfg)
	return nil
}

// checkSelfReference rejects nodes that consume their own output without
// being gated. A gated accumulator (re-armed by a gate's control token)
// is the supported looping shape; an ungated self-consumer would run once
// and silently never again, which is always a graph bug.
func (g *Graph) checkSelfReference() error {
	for i := range g.nodes {
		n := &g.nodes[i]
		for _, in := range n.Inputs {
			if n.produces(in) && !g.IsGated(n.Name) {
				return &SelfReferenceError{Node: n.Name, Value: in}
			}
		}
	}
	return nil
}

// adjacency builds the combined edge set used for cycle analysis:
// data edges (producer -> consumer) and control edges (gate -> target).
func (g *Graph) adjacency() [][]int {
	adj := make([][]int, len(g.nodes))
	seen := make(map[[2]int]bool)
	add := func(from, to int) {
		if from == to {
			return
		}
		key := [2]int{from, to}
		if seen[key] {
			return
		}
		seen[key] = true
		adj[from] = append(adj[from], to)
	}

	for name, prods := range g.producers {
		for _, p := range prods {
			for _, c := range g.consumers[name] {
				add(p, c)
			}
		}
	}
	for target, gates := range g.gatedBy {
		ti := g.index[target]
		for _, gi := range gates {
			add(gi, ti)
		}
	}
	return adj
}

// isCycle reports whether an SCC actually loops: more than one member,
// or a single member with an edge back to itself.
func isCycle(comp []int, adj [][]int) bool {
	if len(comp) > 1 {
		return true
	}
	i := comp[0]
	for _, j := range adj[i] {
		if j == i {
			return true
		}
	}
	return false
}

// checkCycleExit requires every cycle to contain a gate with at least one
// target outside the component (or End). Without one, an accepted graph
// could loop forever by construction.
func (g *Graph) checkCycleExit(id int, comp []int) error {
	inComp := make(map[int]bool, len(comp))
	for _, i := range comp {
		inComp[i] = true
	}
	for _, i := range comp {
		n := &g.nodes[i]
		if !n.IsGate() {
			continue
		}
		for _, t := range n.Targets {
			if t == End {
				return nil
			}
			if !inComp[g.index[t]] {
				return nil
			}
		}
	}
	return &GraphConfigError{
		Nodes: g.componentNames(comp),
		Msg:   "cycle has no exit: add a route or branch inside it with END (or a node outside the cycle) among its targets",
	}
}

// checkCycleSeed requires at least one closing value of the cycle to be
// initializable: a declared default, or a value the builder declared as a
// caller input. It also records the closing values so the state layer can
// accept caller seeds for them at version 0.
func (g *Graph) checkCycleSeed(id int, comp []int, cfg buildConfig) error {
	inComp := make(map[int]bool, len(comp))
	for _, i := range comp {
		inComp[i] = true
	}

	var closing []string
	seenVal := make(map[string]bool)
	for _, i := range comp {
		for _, in := range g.nodes[i].Inputs {
			if seenVal[in] {
				continue
			}
			for _, p := range g.producers[in] {
				if inComp[p] {
					seenVal[in] = true
					closing = append(closing, in)
					break
				}
			}
		}
	}
	sort.Strings(closing)
	g.closing[id] = closing

	for _, v := range closing {
		if _, ok := cfg.defaults[v]; ok {
			return nil
		}
		if cfg.inputs[v] {
			return nil
		}
	}
	return &DeadlockError{Nodes: g.componentNames(comp), Values: closing}
}

// checkSharedOutputs allows two producers of one value name only when a
// single gate lists all of them as targets, which makes them mutually
// exclusive per firing. Anything else is rejected here; genuinely
// simultaneous producers are caught again at run time as a ConflictError.
func (g *Graph) checkSharedOutputs() error {
	for name, prods := range g.producers {
		if len(prods) < 2 {
			continue
		}
		if g.commonGate(prods) {
			continue
		}
		var owners []string
		for _, p := range prods {
			owners = append(owners, g.nodes[p].Name)
		}
		sort.Strings(owners)
		return &GraphConfigError{
			Nodes: owners,
			Msg:   "multiple producers of output " + quoted(name) + " without a common gate; route between them so only one can fire",
		}
	}
	return nil
}

// commonGate reports whether one gate's target set covers every producer.
func (g *Graph) commonGate(prods []int) bool {
	candidates := g.gatedBy[g.nodes[prods[0]].Name]
	for _, gi := range candidates {
		gate := &g.nodes[gi]
		all := true
		for _, p := range prods {
			found := false
			for _, t := range gate.Targets {
				if t == g.nodes[p].Name {
					found = true
					break
				}
			}
			if !found {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// resolveDefaults applies the edge-cancels-default rule once: a default
// survives when its value has no producer, or when it closes a cycle and
// serves as the first-iteration seed. It also derives the required caller
// inputs (consumed, unproduced, no default).
func (g *Graph) resolveDefaults(cfg buildConfig) {
	for name, val := range cfg.defaults {
		if !g.Produces(name) || g.CycleSeed(name) {
			g.defaults[name] = val
		}
	}

	seen := make(map[string]bool)
	for name := range g.consumers {
		if g.Produces(name) {
			continue
		}
		if _, ok := g.defaults[name]; ok {
			continue
		}
		if !seen[name] {
			seen[name] = true
			g.required = append(g.required, name)
		}
	}
	sort.Strings(g.required)
}

func (g *Graph) componentNames(comp []int) []string {
	names := make([]string, 0, len(comp))
	for _, i := range comp {
		names = append(names, g.nodes[i].Name)
	}
	sort.Strings(names)
	return names
}

func quoted(s string) string { return `"` + s + `"` }

// tarjan computes strongly connected components via Tarjan's algorithm,
// iteratively to keep deep graphs off the call stack.
func tarjan(n int, adj [][]int) [][]int {
	const unvisited = -1

	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}

	var (
		stack   []int
		sccs    [][]int
		counter int
	)

	type frame struct {
		v, next int
	}

	for start := 0; start < n; start++ {
		if index[start] != unvisited {
			continue
		}
		frames := []frame{{v: start}}
		index[start] = counter
		low[start] = counter
		counter++
		stack = append(stack, start)
		onStack[start] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.next < len(adj[f.v]) {
				w := adj[f.v][f.next]
				f.next++
				if index[w] == unvisited {
					index[w] = counter
					low[w] = counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					frames = append(frames, frame{v: w})
				} else if onStack[w] && index[w] < low[f.v] {
					low[f.v] = index[w]
				}
				continue
			}

			v := f.v
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := frames[len(frames)-1].v
				if low[v] < low[parent] {
					low[parent] = low[v]
				}
			}
			if low[v] == index[v] {
				var comp []int
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					comp = append(comp, w)
					if w == v {
						break
					}
				}
				sccs = append(sccs, comp)
			}
		}
	}
	return sccs
}
