package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mlahtinen/weave/pkg/api"
)

// MemoryStore is a goroutine-safe Checkpointer backed by maps. It is
// the default backend and is not crash-durable; use it for tests,
// development, and runs that only need interrupt/resume within one
// process lifetime.
type MemoryStore struct {
	mu     sync.RWMutex
	nextCP int64

	// steps per run, in creation order. stepIdx gives O(1) completion.
	steps   map[string][]*api.StepSnapshot
	stepIdx map[string]map[string]*api.StepSnapshot

	// checkpoints per workflow, in save order.
	checkpoints map[string][]*api.Checkpoint
}

var _ Checkpointer = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:       make(map[string][]*api.StepSnapshot),
		stepIdx:     make(map[string]map[string]*api.StepSnapshot),
		checkpoints: make(map[string][]*api.Checkpoint),
	}
}

func (s *MemoryStore) BeginStep(ctx context.Context, step *api.StepSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *step
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	idx := s.stepIdx[cp.RunID]
	if idx == nil {
		idx = make(map[string]*api.StepSnapshot)
		s.stepIdx[cp.RunID] = idx
	}
	// Re-beginning an existing step (a retried parent re-running its
	// nested steps) resets the record in place, keeping its position.
	if prev, dup := idx[cp.ID]; dup {
		*prev = cp
		return nil
	}
	idx[cp.ID] = &cp
	s.steps[cp.RunID] = append(s.steps[cp.RunID], &cp)
	return nil
}

func (s *MemoryStore) CompleteStep(ctx context.Context, runID, stepID string, status api.StepStatus, outputs map[string]any, decision, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	step, ok := s.stepIdx[runID][stepID]
	if !ok {
		return api.ErrStepNotFound
	}
	step.Status = status
	step.Outputs = outputs
	step.Decision = decision
	step.Error = errText
	step.FinishedAt = time.Now()
	return nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp *api.Checkpoint) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *cp
	s.nextCP++
	saved.ID = fmt.Sprintf("cp-%d", s.nextCP)
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now()
	}
	s.checkpoints[saved.WorkflowID] = append(s.checkpoints[saved.WorkflowID], &saved)
	return saved.ID, nil
}

func (s *MemoryStore) LoadCheckpoint(ctx context.Context, workflowID, id string) (*api.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.checkpoints[workflowID]
	if len(cps) == 0 {
		return nil, api.ErrCheckpointNotFound
	}
	if id == "" {
		cp := *cps[len(cps)-1]
		return &cp, nil
	}
	for _, c := range cps {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, api.ErrCheckpointNotFound
}

func (s *MemoryStore) ListSteps(ctx context.Context, runID string) ([]api.StepSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := s.steps[runID]
	out := make([]api.StepSnapshot, 0, len(steps))
	for _, st := range steps {
		out = append(out, *st)
	}
	return out, nil
}
