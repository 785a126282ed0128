package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mlahtinen/weave/pkg/api"
)

func mustBuild(t *testing.T, nodes []api.NodeSpec, opts ...api.BuildOption) *api.Graph {
	t.Helper()
	g, err := api.Build(nodes, opts...)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return g
}

func upperPipeline(t *testing.T) *api.Graph {
	t.Helper()
	return mustBuild(t, []api.NodeSpec{
		{Name: "upper", Inputs: []string{"text"}, Outputs: []string{"upper"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return strings.ToUpper(args["text"].(string)), nil
		}},
		{Name: "exclaim", Inputs: []string{"upper"}, Outputs: []string{"result"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return args["upper"].(string) + "!", nil
		}},
	}, api.WithName("upper-pipeline"))
}

func TestLinearRunCompletes(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	res, err := eng.Run(ctx, upperPipeline(t), map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Status != api.RunCompleted {
		t.Fatalf("expected status %q, got %q", api.RunCompleted, res.Status)
	}
	if res.Values["result"] != "HELLO!" {
		t.Fatalf("expected HELLO!, got %v", res.Values["result"])
	}
	if res.WorkflowID == "" || res.RunID == "" {
		t.Fatalf("expected generated ids, got %+v", res)
	}
}

func TestRunRecordsSteps(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	res, err := eng.Run(ctx, upperPipeline(t), map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	steps, err := eng.ListSteps(ctx, res.RunID)
	if err != nil {
		t.Fatalf("ListSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].ID != "0.0" || steps[0].Node != "upper" {
		t.Fatalf("unexpected first step: %+v", steps[0])
	}
	if steps[1].ID != "1.0" || steps[1].Node != "exclaim" {
		t.Fatalf("unexpected second step: %+v", steps[1])
	}
	for _, st := range steps {
		if st.Status != api.StepCompleted {
			t.Fatalf("step %s not completed: %+v", st.ID, st)
		}
		if len(st.Outputs) == 0 {
			t.Fatalf("completed step %s has no recorded outputs", st.ID)
		}
	}
}

func TestRunFailsOnNodeError(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	g := mustBuild(t, []api.NodeSpec{
		{Name: "boom", Inputs: []string{"in"}, Outputs: []string{"out"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, fmt.Errorf("exploded")
		}},
	})

	res, err := eng.Run(ctx, g, map[string]any{"in": 1})
	if err == nil {
		t.Fatalf("expected Run to return error")
	}
	if res == nil || res.Status != api.RunFailed {
		t.Fatalf("expected failed result, got %+v", res)
	}
	var nodeErr *api.NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "boom" {
		t.Fatalf("expected NodeError naming boom, got %v", err)
	}

	// The failure checkpoint is readable afterwards.
	cp, err := eng.LoadCheckpoint(ctx, res.WorkflowID, "")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp.Status != api.RunFailed || cp.Error == "" {
		t.Fatalf("expected failed checkpoint with error text, got %+v", cp)
	}
}

func TestRunFailsOnMissingInput(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	res, err := eng.Run(ctx, upperPipeline(t), nil)
	if err == nil {
		t.Fatalf("expected Run to fail without the text input")
	}
	if res.Status != api.RunFailed {
		t.Fatalf("expected status %q, got %q", api.RunFailed, res.Status)
	}
	var missing *api.MissingInputError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingInputError, got %v", err)
	}
	if missing.Value != "text" {
		t.Fatalf("expected missing value text, got %q", missing.Value)
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	eng := NewMemoryEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := eng.Run(ctx, upperPipeline(t), map[string]any{"text": "x"})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res.Status != api.RunFailed {
		t.Fatalf("expected failed result, got %+v", res)
	}
}

func TestNodeRetryPolicy(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	var attempts int
	g := mustBuild(t, []api.NodeSpec{
		{
			Name: "flaky", Inputs: []string{"in"}, Outputs: []string{"out"},
			Retry: &api.RetryPolicy{MaxAttempts: 3},
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				attempts++
				if attempts < 3 {
					return nil, fmt.Errorf("transient")
				}
				return "ok", nil
			},
		},
	})

	res, err := eng.Run(ctx, g, map[string]any{"in": 1})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if res.Values["out"] != "ok" {
		t.Fatalf("expected ok, got %v", res.Values["out"])
	}
}

func TestGateRoutesAndCarriesData(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	g := mustBuild(t, []api.NodeSpec{
		{Name: "triage", Kind: api.KindRoute, Inputs: []string{"ticket"}, Outputs: []string{"priority"},
			Targets: []string{"page", "queue"},
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				return api.Decision{Target: "page", Outputs: map[string]any{"priority": "high"}}, nil
			}},
		{Name: "page", Inputs: []string{"priority"}, Outputs: []string{"handled"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return "paged:" + args["priority"].(string), nil
		}},
		{Name: "queue", Inputs: []string{"priority"}, Outputs: []string{"handled"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return "queued", nil
		}},
	})

	res, err := eng.Run(ctx, g, map[string]any{"ticket": "db down"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Values["handled"] != "paged:high" {
		t.Fatalf("expected the paged path, got %v", res.Values["handled"])
	}
}

func TestGateReturningUnknownTargetAborts(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	g := mustBuild(t, []api.NodeSpec{
		{Name: "pick", Kind: api.KindRoute, Inputs: []string{"q"}, Targets: []string{"work", api.End},
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				return "nowhere", nil
			}},
		{Name: "work", Inputs: []string{"q"}, Outputs: []string{"x"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return 1, nil
		}},
	})

	_, err := eng.Run(ctx, g, map[string]any{"q": "v"})
	if target, ok := api.IsInvalidRoute(err); !ok || target != "nowhere" {
		t.Fatalf("expected InvalidRouteError for nowhere, got %v", err)
	}
}

func TestRouteReturningBoolAborts(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	// A single-target route whose body returns a bool must abort with
	// InvalidRouteError, not pick a target (or read past Targets).
	g := mustBuild(t, []api.NodeSpec{
		{Name: "pick", Kind: api.KindRoute, Inputs: []string{"q"}, Targets: []string{"work"},
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				return false, nil
			}},
		{Name: "work", Inputs: []string{"q"}, Outputs: []string{"x"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return 1, nil
		}},
	})

	_, err := eng.Run(ctx, g, map[string]any{"q": "v"})
	if _, ok := api.IsInvalidRoute(err); !ok {
		t.Fatalf("expected InvalidRouteError for bool route return, got %v", err)
	}
}

func TestBranchSelectsByBool(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()

	g := mustBuild(t, []api.NodeSpec{
		{Name: "check", Kind: api.KindBranch, Inputs: []string{"n"}, Targets: []string{"even", api.End},
			Fn: func(ctx context.Context, args map[string]any) (any, error) {
				return args["n"].(int)%2 == 0, nil
			}},
		{Name: "even", Inputs: []string{"n"}, Outputs: []string{"label"}, Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return "even", nil
		}},
	})

	res, err := eng.Run(ctx, g, map[string]any{"n": 4})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Values["label"] != "even" {
		t.Fatalf("expected label even, got %v", res.Values["label"])
	}

	res, err = eng.Run(ctx, g, map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, ok := res.Values["label"]; ok {
		t.Fatalf("odd input should route to END, got %v", res.Values)
	}
}
