package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCheckpointNotFound is returned when no checkpoint exists for a
	// workflow id (or the named checkpoint id does not exist).
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrStepNotFound is returned when a step snapshot lookup misses.
	ErrStepNotFound = errors.New("step not found")

	// ErrPayloadTooLarge is returned by the codec when an encoded value
	// exceeds the configured payload ceiling. A step whose output cannot
	// be persisted fails; it is never silently dropped, because a step
	// without durable outputs cannot be skipped on resume.
	ErrPayloadTooLarge = errors.New("encoded payload exceeds size limit")
)

// GraphConfigError reports a structural problem found while building a
// Graph: duplicate node names, an unresolvable input, a cycle with no
// path to End, or conflicting producers of one value.
type GraphConfigError struct {
	Nodes []string // offending node name(s)
	Msg   string   // what is wrong and how to fix it
}

func (e *GraphConfigError) Error() string {
	return fmt.Sprintf("graph config error [%s]: %s", strings.Join(e.Nodes, ", "), e.Msg)
}

// InvalidRouteError reports a gate target problem. At build time it means
// a declared target names no node; at run time it means the gate returned
// a value outside its declared target set.
type InvalidRouteError struct {
	Node   string
	Target string
	Legal  []string
}

func (e *InvalidRouteError) Error() string {
	return fmt.Sprintf("invalid route from %q: target %q is not one of [%s]; declare it in the gate's target set or return a declared target",
		e.Node, e.Target, strings.Join(e.Legal, ", "))
}

// DeadlockError reports a cycle none of whose member values can ever be
// initialized: no caller input and no declared default closes the loop.
type DeadlockError struct {
	Nodes  []string
	Values []string
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlocked cycle through [%s]: none of the cyclic values [%s] can be initialized; supply one as a run input or declare a default with WithDefault",
		strings.Join(e.Nodes, ", "), strings.Join(e.Values, ", "))
}

// SelfReferenceError reports a node that lists its own output among its
// inputs, which would make it ready forever.
type SelfReferenceError struct {
	Node  string
	Value string
}

func (e *SelfReferenceError) Error() string {
	return fmt.Sprintf("node %q consumes its own output %q; accumulators are fed through the versioned store, remove the self-edge", e.Node, e.Value)
}

// ConflictError reports two simultaneously ready nodes claiming the same
// output name. It is raised before either node executes.
type ConflictError struct {
	Value string
	Nodes []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("output conflict on %q: nodes [%s] are ready at once; guard them behind a common gate so only one can fire",
		e.Value, strings.Join(e.Nodes, ", "))
}

// InfiniteLoopError reports a run that exceeded its iteration ceiling.
type InfiniteLoopError struct {
	Iterations int
}

func (e *InfiniteLoopError) Error() string {
	return fmt.Sprintf("run exceeded %d iterations; check gate exit conditions or raise the ceiling with WithMaxIterations", e.Iterations)
}

// MissingInputError reports a required run input (typically a cyclic
// value with no default) that was never supplied.
type MissingInputError struct {
	Node  string
	Value string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("node %q needs input %q which no node produces and no run input or default supplies", e.Node, e.Value)
}

// WorkflowAlreadyExistsError reports a workflow id reuse rejected by the
// active reuse policy.
type WorkflowAlreadyExistsError struct {
	WorkflowID string
	Status     RunStatus
}

func (e *WorkflowAlreadyExistsError) Error() string {
	return fmt.Sprintf("workflow %q already exists with status %s; pass a fresh workflow id or a different reuse policy", e.WorkflowID, e.Status)
}

// NodeError wraps a failure from a node body so callers can tell which
// node failed without parsing message text.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// IsInvalidRoute returns the offending target if err is an InvalidRouteError.
func IsInvalidRoute(err error) (string, bool) {
	var r *InvalidRouteError
	if errors.As(err, &r) {
		return r.Target, true
	}
	return "", false
}

// IsConflict returns the contested value name if err is a ConflictError.
func IsConflict(err error) (string, bool) {
	var c *ConflictError
	if errors.As(err, &c) {
		return c.Value, true
	}
	return "", false
}
