package persistence

import (
	"context"

	"github.com/mlahtinen/weave/pkg/api"
)

// Checkpointer is the storage contract the scheduler writes through.
// Any backend must provide atomic step completion (status and outputs
// committed as one unit), checkpoint save/load keyed by workflow id,
// and step listing by run id in creation order.
//
// The in-memory store is the default when durability is not needed; the
// SQLite store is the conformance backend.
type Checkpointer interface {
	// BeginStep durably records a step before its node body runs.
	BeginStep(ctx context.Context, step *api.StepSnapshot) error

	// CompleteStep seals a step: status, outputs, routing decision, and
	// error text are committed in one atomic unit. There is no window
	// where a step reads as done while its outputs are unrecoverable.
	CompleteStep(ctx context.Context, runID, stepID string, status api.StepStatus, outputs map[string]any, decision, errText string) error

	// SaveCheckpoint persists a checkpoint and returns its id.
	// Checkpoints are append-only; later ones supersede earlier ones.
	SaveCheckpoint(ctx context.Context, cp *api.Checkpoint) (string, error)

	// LoadCheckpoint returns the checkpoint with the given id, or the
	// latest one for the workflow when id is empty. Returns
	// api.ErrCheckpointNotFound when there is none.
	LoadCheckpoint(ctx context.Context, workflowID, id string) (*api.Checkpoint, error)

	// ListSteps returns the run's step snapshots in creation order.
	ListSteps(ctx context.Context, runID string) ([]api.StepSnapshot, error)
}
