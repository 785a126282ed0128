package api

import (
	"sort"
)

// State is the per-run versioned value store. Each value carries a
// version; version 0 means caller-supplied. Readiness is driven by
// staleness: a node re-runs when some input it consumes is newer than
// what it last consumed. State is written only by the scheduler of one
// run; it is not safe for concurrent writers.
type State struct {
	values   map[string]any
	versions map[string]uint64

	// consumed records, per node, the version of each input the node
	// last consumed. Apply pre-seeds the producer's own record for each
	// output it writes (sole-producer rule), so an accumulator never
	// re-triggers off its own previous output.
	consumed map[string]map[string]uint64

	ran map[string]bool

	// control holds pending control tokens: gate decisions that arm a
	// target node for the next generation. A token is consumed when the
	// target executes.
	control map[string]bool
}

// StateSnapshot is the serializable form of a State, stored inside
// checkpoints so a resumed run restores exact scheduling behavior, not
// just values.
type StateSnapshot struct {
	Values   map[string]any
	Versions map[string]uint64
	Consumed map[string]map[string]uint64
	Ran      map[string]bool
	Control  map[string]bool
}

// NewState seeds a fresh run state from the graph's effective defaults
// and the caller's inputs, with inputs winning conflicts. All seeded
// values sit at version 0.
func NewState(g *Graph, inputs map[string]any) *State {
	s := &State{
		values:   make(map[string]any),
		versions: make(map[string]uint64),
		consumed: make(map[string]map[string]uint64),
		ran:      make(map[string]bool),
		control:  make(map[string]bool),
	}
	for name, v := range g.Defaults() {
		s.values[name] = v
	}
	for name, v := range inputs {
		s.values[name] = v
	}
	return s
}

// RestoreState rebuilds a State from a checkpoint snapshot.
func RestoreState(snap StateSnapshot) *State {
	s := &State{
		values:   make(map[string]any, len(snap.Values)),
		versions: make(map[string]uint64, len(snap.Versions)),
		consumed: make(map[string]map[string]uint64, len(snap.Consumed)),
		ran:      make(map[string]bool, len(snap.Ran)),
		control:  make(map[string]bool, len(snap.Control)),
	}
	for k, v := range snap.Values {
		s.values[k] = v
	}
	for k, v := range snap.Versions {
		s.versions[k] = v
	}
	for node, m := range snap.Consumed {
		mm := make(map[string]uint64, len(m))
		for k, v := range m {
			mm[k] = v
		}
		s.consumed[node] = mm
	}
	for k, v := range snap.Ran {
		s.ran[k] = v
	}
	for k, v := range snap.Control {
		s.control[k] = v
	}
	return s
}

// Snapshot returns a deep-copied serializable view of the state.
func (s *State) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		Values:   make(map[string]any, len(s.values)),
		Versions: make(map[string]uint64, len(s.versions)),
		Consumed: make(map[string]map[string]uint64, len(s.consumed)),
		Ran:      make(map[string]bool, len(s.ran)),
		Control:  make(map[string]bool, len(s.control)),
	}
	for k, v := range s.values {
		snap.Values[k] = v
	}
	for k, v := range s.versions {
		snap.Versions[k] = v
	}
	for node, m := range s.consumed {
		mm := make(map[string]uint64, len(m))
		for k, v := range m {
			mm[k] = v
		}
		snap.Consumed[node] = mm
	}
	for k, v := range s.ran {
		snap.Ran[k] = v
	}
	for k, v := range s.control {
		snap.Control[k] = v
	}
	return snap
}

// Get returns a value and its version.
func (s *State) Get(name string) (any, uint64, bool) {
	v, ok := s.values[name]
	return v, s.versions[name], ok
}

// Values returns a copy of all current values.
func (s *State) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Merge lays inputs over the current values, bumping each merged
// value's version so stale consumers wake up. Used on resume, where
// explicit inputs win over restored values.
func (s *State) Merge(inputs map[string]any) {
	for name, v := range inputs {
		s.values[name] = v
		s.versions[name]++
	}
}

// Apply writes one node's outputs as a unit. Each output's version
// increments by one, and the producer's own consumed record for that
// output is pre-seeded to the new version (sole-producer rule).
func (s *State) Apply(outputs map[string]any, producer string) {
	for name, v := range outputs {
		s.values[name] = v
		s.versions[name]++
		cm := s.consumed[producer]
		if cm == nil {
			cm = make(map[string]uint64)
			s.consumed[producer] = cm
		}
		cm[name] = s.versions[name]
	}
}

// Consume records that node observed the current versions of the given
// inputs. The scheduler calls it with the pre-generation versions of the
// node's declared inputs when the node executes.
func (s *State) Consume(node string, inputs []string) {
	cm := s.consumed[node]
	if cm == nil {
		cm = make(map[string]uint64)
		s.consumed[node] = cm
	}
	for _, in := range inputs {
		cm[in] = s.versions[in]
	}
}

// MarkRan records that node has executed at least once.
func (s *State) MarkRan(node string) { s.ran[node] = true }

// HasRun reports whether node has executed in this run.
func (s *State) HasRun(node string) bool { return s.ran[node] }

// SetControl arms target with a control token from a gate decision.
func (s *State) SetControl(target string) { s.control[target] = true }

// ClearControl consumes target's control token, if any.
func (s *State) ClearControl(target string) { delete(s.control, target) }

// HasControl reports whether target holds a pending control token.
func (s *State) HasControl(target string) bool { return s.control[target] }

// ReadySet returns the names of nodes eligible to run, in deterministic
// (sorted) order. A gated node is ready only while it holds a control
// token and all of its inputs exist. An ungated node is ready once all
// inputs exist and either it never ran or some input is newer than what
// it last consumed; its own prior output never counts, because Apply
// pre-seeded that record.
func (s *State) ReadySet(g *Graph) []string {
	var ready []string
	nodes := g.Nodes()
	for i := range nodes {
		n := &nodes[i]
		if !s.inputsPresent(n) {
			continue
		}
		if g.IsGated(n.Name) {
			if s.control[n.Name] {
				ready = append(ready, n.Name)
			}
			continue
		}
		if !s.ran[n.Name] {
			ready = append(ready, n.Name)
			continue
		}
		if s.anyStale(n) {
			ready = append(ready, n.Name)
		}
	}
	sort.Strings(ready)
	return ready
}

func (s *State) inputsPresent(n *NodeSpec) bool {
	for _, in := range n.Inputs {
		if _, ok := s.values[in]; !ok {
			return false
		}
	}
	return true
}

func (s *State) anyStale(n *NodeSpec) bool {
	cm := s.consumed[n.Name]
	for _, in := range n.Inputs {
		if s.versions[in] > cm[in] {
			return true
		}
	}
	return false
}

// Args collects the node's declared inputs into the map its body receives.
func (s *State) Args(n *NodeSpec) map[string]any {
	args := make(map[string]any, len(n.Inputs))
	for _, in := range n.Inputs {
		args[in] = s.values[in]
	}
	return args
}
