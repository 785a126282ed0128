package api

import (
	"fmt"
	"strings"
)

// Decision is an optional gate return shape that carries data outputs
// alongside the routing target. Gates may also return a bare string
// (route) or bool (branch).
type Decision struct {
	// Target is the selected node name or End. For branch nodes it must
	// be one of the two declared targets.
	Target string

	// Outputs are optional data outputs applied with the decision.
	Outputs map[string]any
}

// Pause describes an interrupt: which node fired, what prompt value it
// surfaced, and the checkpoint to resume from.
type Pause struct {
	Node       string
	Value      any
	Checkpoint *Checkpoint
}

// RunResult is what a run returns in every terminal (or paused) state.
type RunResult struct {
	Status     RunStatus
	Values     map[string]any
	Pause      *Pause
	WorkflowID string
	RunID      string
	Err        error
}

// Capabilities declares what an execution backend supports. The engine
// rejects any graph/runner pairing where the graph uses an unsupported
// capability before any node executes.
type Capabilities struct {
	Cycles      bool
	Gates       bool
	Interrupts  bool
	AsyncNodes  bool
	Distributed bool
}

// FullCapabilities returns the capability set of the in-process
// scheduler: everything except distributed execution.
func FullCapabilities() Capabilities {
	return Capabilities{Cycles: true, Gates: true, Interrupts: true, AsyncNodes: true}
}

// CheckCapabilities verifies that g only uses what caps supports.
func CheckCapabilities(g *Graph, caps Capabilities) error {
	var missing []string
	if g.UsesCycles() && !caps.Cycles {
		missing = append(missing, "cycles")
	}
	if g.UsesGates() && !caps.Gates {
		missing = append(missing, "gates")
	}
	if g.UsesInterrupts() && !caps.Interrupts {
		missing = append(missing, "interrupts")
	}
	if g.UsesAsyncNodes() && !caps.AsyncNodes {
		missing = append(missing, "async nodes")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("graph %q needs %s, which this runner does not support; pick a runner with those capabilities or restructure the graph",
		g.Name(), strings.Join(missing, ", "))
}

// ReusePolicy governs what happens when a workflow id is reused.
type ReusePolicy string

const (
	// ReuseReturnExisting (the default) returns the stored result of the
	// existing run instead of starting a new one.
	ReuseReturnExisting ReusePolicy = "return-existing"

	// ReuseReject fails with a WorkflowAlreadyExistsError.
	ReuseReject ReusePolicy = "reject"

	// ReuseTerminate abandons the existing run and starts fresh.
	ReuseTerminate ReusePolicy = "terminate-existing"

	// ReuseIfFailed starts fresh only when the existing run failed.
	ReuseIfFailed ReusePolicy = "allow-if-failed"
)

// DurabilityMode controls when step and checkpoint writes reach the
// Checkpointer.
type DurabilityMode string

const (
	// DurabilitySync blocks the loop until each write is acknowledged.
	DurabilitySync DurabilityMode = "sync"

	// DurabilityAsync fires writes in the background without blocking.
	DurabilityAsync DurabilityMode = "async"

	// DurabilityExit batches writes and flushes once at completion or
	// interruption.
	DurabilityExit DurabilityMode = "exit"
)

// DefaultMaxIterations is the generation ceiling a run aborts past.
const DefaultMaxIterations = 1000

// RunConfig holds the per-run settings assembled from RunOptions.
type RunConfig struct {
	WorkflowID      string
	Resume          bool
	CheckpointID    string
	Reuse           ReusePolicy
	MaxIterations   int
	ContinueOnError bool
	Durability      DurabilityMode
}

// RunOption configures a single run.
type RunOption func(*RunConfig)

// WithWorkflowID sets the caller-assigned idempotency key. When empty,
// the engine generates one.
func WithWorkflowID(id string) RunOption {
	return func(c *RunConfig) { c.WorkflowID = id }
}

// WithResume restores the workflow's latest checkpoint (or the named
// one) before running, replaying completed steps instead of re-invoking
// their nodes.
func WithResume(checkpointID string) RunOption {
	return func(c *RunConfig) {
		c.Resume = true
		c.CheckpointID = checkpointID
	}
}

// WithReusePolicy sets how an already-known workflow id is handled.
func WithReusePolicy(p ReusePolicy) RunOption {
	return func(c *RunConfig) { c.Reuse = p }
}

// WithMaxIterations overrides the generation ceiling.
func WithMaxIterations(n int) RunOption {
	return func(c *RunConfig) { c.MaxIterations = n }
}

// WithContinueOnError records node failures and keeps scheduling instead
// of aborting on the first one. The run still finishes FAILED, naming
// every failed node.
func WithContinueOnError() RunOption {
	return func(c *RunConfig) { c.ContinueOnError = true }
}

// WithDurability selects when durable writes happen.
func WithDurability(m DurabilityMode) RunOption {
	return func(c *RunConfig) { c.Durability = m }
}

// NewRunConfig applies opts over the defaults.
func NewRunConfig(opts ...RunOption) RunConfig {
	cfg := RunConfig{
		Reuse:         ReuseReturnExisting,
		MaxIterations: DefaultMaxIterations,
		Durability:    DurabilitySync,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return cfg
}
