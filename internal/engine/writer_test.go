package engine

import (
	"context"
	"testing"
	"time"

	"github.com/mlahtinen/weave/internal/persistence"
	"github.com/mlahtinen/weave/pkg/api"
)

// slowBeginStore delays BeginStep on top of the memory store. With
// unordered background writes a step's completion would reach the store
// before its begin record and fail with ErrStepNotFound at flush.
type slowBeginStore struct {
	*persistence.MemoryStore
	delay time.Duration
}

func (s *slowBeginStore) BeginStep(ctx context.Context, step *api.StepSnapshot) error {
	time.Sleep(s.delay)
	return s.MemoryStore.BeginStep(ctx, step)
}

func TestAsyncDurabilityPreservesWriteOrder(t *testing.T) {
	ctx := context.Background()
	store := &slowBeginStore{MemoryStore: persistence.NewMemoryStore(), delay: 20 * time.Millisecond}
	eng := NewEngineWithConfig(Config{Checkpointer: store})

	res, err := eng.Run(ctx, upperPipeline(t), map[string]any{"text": "hello"},
		api.WithDurability(api.DurabilityAsync))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != api.RunCompleted {
		t.Fatalf("expected completed run, got %s", res.Status)
	}

	// Every step must have landed begun-then-sealed despite the slow
	// begins, with outputs intact.
	steps, err := store.ListSteps(ctx, res.RunID)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	for _, st := range steps {
		if st.Status != api.StepCompleted {
			t.Fatalf("step %s not completed: %s", st.ID, st.Status)
		}
		if len(st.Outputs) == 0 {
			t.Fatalf("step %s lost its outputs", st.ID)
		}
	}

	cp, err := store.LoadCheckpoint(ctx, res.WorkflowID, "")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp.Status != api.RunCompleted {
		t.Fatalf("terminal checkpoint status %s", cp.Status)
	}
}
