package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mlahtinen/weave/pkg/api"
)

func countedGraph(t *testing.T, calls *int, fail *bool) *api.Graph {
	t.Helper()
	return mustBuild(t, []api.NodeSpec{
		{Name: "work", Inputs: []string{"in"}, Outputs: []string{"out"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			*calls++
			if fail != nil && *fail {
				return nil, fmt.Errorf("down")
			}
			return *calls, nil
		}},
	})
}

func TestReuseReturnExistingIsDefault(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	calls := 0
	g := countedGraph(t, &calls, nil)

	first, err := eng.Run(ctx, g, map[string]any{"in": 1}, api.WithWorkflowID("wf-idem"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	second, err := eng.Run(ctx, g, map[string]any{"in": 1}, api.WithWorkflowID("wf-idem"))
	if err != nil {
		t.Fatalf("re-submit failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("workflow id is an idempotency key; work ran %d times", calls)
	}
	if second.Status != api.RunCompleted || second.Values["out"] != first.Values["out"] {
		t.Fatalf("expected the stored result, got %+v", second)
	}
}

func TestReuseReject(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	calls := 0
	g := countedGraph(t, &calls, nil)

	if _, err := eng.Run(ctx, g, map[string]any{"in": 1}, api.WithWorkflowID("wf-rej")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	_, err := eng.Run(ctx, g, map[string]any{"in": 1},
		api.WithWorkflowID("wf-rej"), api.WithReusePolicy(api.ReuseReject))
	var exists *api.WorkflowAlreadyExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("expected WorkflowAlreadyExistsError, got %v", err)
	}
	if exists.WorkflowID != "wf-rej" || exists.Status != api.RunCompleted {
		t.Fatalf("unexpected error detail: %+v", exists)
	}
}

func TestReuseTerminateStartsFresh(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	calls := 0
	g := countedGraph(t, &calls, nil)

	if _, err := eng.Run(ctx, g, map[string]any{"in": 1}, api.WithWorkflowID("wf-term")); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	res, err := eng.Run(ctx, g, map[string]any{"in": 1},
		api.WithWorkflowID("wf-term"), api.WithReusePolicy(api.ReuseTerminate))
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a fresh execution, got %d calls", calls)
	}
	if res.Values["out"] != 2 {
		t.Fatalf("expected the new result, got %v", res.Values["out"])
	}
}

func TestReuseIfFailed(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	calls := 0
	fail := true
	g := countedGraph(t, &calls, &fail)

	if _, err := eng.Run(ctx, g, map[string]any{"in": 1}, api.WithWorkflowID("wf-retry")); err == nil {
		t.Fatalf("expected first attempt to fail")
	}

	// A failed workflow may be restarted under the same id.
	fail = false
	res, err := eng.Run(ctx, g, map[string]any{"in": 1},
		api.WithWorkflowID("wf-retry"), api.WithReusePolicy(api.ReuseIfFailed))
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if res.Status != api.RunCompleted {
		t.Fatalf("expected completion, got %q", res.Status)
	}

	// A completed workflow may not.
	_, err = eng.Run(ctx, g, map[string]any{"in": 1},
		api.WithWorkflowID("wf-retry"), api.WithReusePolicy(api.ReuseIfFailed))
	var exists *api.WorkflowAlreadyExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("expected WorkflowAlreadyExistsError, got %v", err)
	}
}
