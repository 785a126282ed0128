package api

import (
	"fmt"
	"strings"
	"time"
)

// StepStatus is the lifecycle state of a single node execution record.
type StepStatus string

const (
	StepCreated     StepStatus = "CREATED"
	StepRunning     StepStatus = "RUNNING"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepInterrupted StepStatus = "INTERRUPTED"
)

// RunStatus is the lifecycle state of a run (and of the checkpoint that
// records it).
type RunStatus string

const (
	RunRunning     RunStatus = "RUNNING"
	RunInterrupted RunStatus = "INTERRUPTED"
	RunCompleted   RunStatus = "COMPLETED"
	RunFailed      RunStatus = "FAILED"
)

// StepID identifies one node execution. IDs are hierarchical: a nested
// graph prefixes its parent's segment, so "2.1/0.3" is the step at
// generation 0, slot 3 inside the subgraph executed as generation 2,
// slot 1 of the parent.
func StepID(parent string, generation, slot int) string {
	seg := fmt.Sprintf("%d.%d", generation, slot)
	if parent == "" {
		return seg
	}
	return parent + "/" + seg
}

// StepDepth returns how many graphs deep a step id sits (1 = top level).
func StepDepth(id string) int {
	if id == "" {
		return 0
	}
	return strings.Count(id, "/") + 1
}

// StepSnapshot is the durable record of one node execution. It is
// created before the body runs and sealed atomically together with its
// outputs on completion: a step is COMPLETED if and only if its outputs
// are retrievable.
type StepSnapshot struct {
	ID         string
	RunID      string
	Node       string
	Status     StepStatus
	Generation int

	// Outputs holds the node's applied outputs when Status is
	// StepCompleted; nil otherwise.
	Outputs map[string]any

	// Decision holds a gate's routing decision (target name or End).
	Decision string

	// Error is the failure text when Status is StepFailed.
	Error string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Checkpoint is a point-in-time snapshot of a run. Checkpoints are
// written at generation boundaries, at interrupts, and at completion;
// they are never mutated, only superseded by later ones.
type Checkpoint struct {
	ID         string
	WorkflowID string
	RunID      string
	GraphName  string

	// Iteration is the number of fully applied generations.
	Iteration int

	Status RunStatus

	// State carries the full versioned store, so resume restores exact
	// scheduling behavior rather than just values.
	State StateSnapshot

	// InterruptNode and InterruptValue are set when Status is
	// RunInterrupted: which interrupt fired and the prompt it surfaced.
	InterruptNode  string
	InterruptValue any

	// Error is the failure text when Status is RunFailed.
	Error string

	CreatedAt time.Time
}

// Values returns the checkpoint's current run values.
func (c *Checkpoint) Values() map[string]any {
	out := make(map[string]any, len(c.State.Values))
	for k, v := range c.State.Values {
		out[k] = v
	}
	return out
}
