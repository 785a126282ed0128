package api

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func nop(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

func TestBuildRejectsDuplicateNames(t *testing.T) {
	_, err := Build([]NodeSpec{
		{Name: "a", Outputs: []string{"x"}, Fn: nop},
		{Name: "a", Inputs: []string{"x"}, Fn: nop},
	})
	var cfgErr *GraphConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected GraphConfigError, got %v", err)
	}
	if len(cfgErr.Nodes) != 1 || cfgErr.Nodes[0] != "a" {
		t.Fatalf("expected error to name node a, got %+v", cfgErr)
	}
}

func TestBuildRejectsReservedEndName(t *testing.T) {
	_, err := Build([]NodeSpec{{Name: End, Fn: nop}})
	var cfgErr *GraphConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected GraphConfigError, got %v", err)
	}
}

func TestBuildRejectsMalformedShapes(t *testing.T) {
	cases := []struct {
		name string
		spec NodeSpec
	}{
		{"compute without body", NodeSpec{Name: "n"}},
		{"compute with targets", NodeSpec{Name: "n", Fn: nop, Targets: []string{"m"}}},
		{"route without targets", NodeSpec{Name: "n", Kind: KindRoute, Fn: nop}},
		{"branch with one target", NodeSpec{Name: "n", Kind: KindBranch, Fn: nop, Targets: []string{"m"}}},
		{"interrupt with body", NodeSpec{Name: "n", Kind: KindInterrupt, Fn: nop, Inputs: []string{"p"}, Outputs: []string{"r"}}},
		{"interrupt without prompt", NodeSpec{Name: "n", Kind: KindInterrupt, Outputs: []string{"r"}}},
	}
	for _, tc := range cases {
		nodes := []NodeSpec{tc.spec, {Name: "m", Fn: nop}}
		if _, err := Build(nodes); err == nil {
			t.Fatalf("%s: expected build error", tc.name)
		}
	}
}

func TestBuildRejectsUnknownRouteTarget(t *testing.T) {
	_, err := Build([]NodeSpec{
		{Name: "pick", Kind: KindRoute, Inputs: []string{"q"}, Targets: []string{"missing"}, Fn: nop},
	})
	var routeErr *InvalidRouteError
	if !errors.As(err, &routeErr) {
		t.Fatalf("expected InvalidRouteError, got %v", err)
	}
	if routeErr.Node != "pick" || routeErr.Target != "missing" {
		t.Fatalf("unexpected error detail: %+v", routeErr)
	}
}

func TestBuildRejectsUngatedSelfConsumer(t *testing.T) {
	_, err := Build([]NodeSpec{
		{Name: "acc", Inputs: []string{"total"}, Outputs: []string{"total"}, Fn: nop},
	})
	var selfErr *SelfReferenceError
	if !errors.As(err, &selfErr) {
		t.Fatalf("expected SelfReferenceError, got %v", err)
	}
	if selfErr.Node != "acc" || selfErr.Value != "total" {
		t.Fatalf("unexpected error detail: %+v", selfErr)
	}
}

func TestBuildAcceptsGatedAccumulator(t *testing.T) {
	g, err := Build([]NodeSpec{
		{Name: "acc", Inputs: []string{"total"}, Outputs: []string{"total"}, Fn: nop},
		{Name: "more", Kind: KindBranch, Inputs: []string{"total"}, Targets: []string{"acc", End}, Fn: nop},
	}, WithDefault("total", 0))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !g.UsesCycles() {
		t.Fatalf("expected cycle to be detected")
	}
	if !g.IsGated("acc") {
		t.Fatalf("expected acc to be gated")
	}
	if !g.CycleSeed("total") {
		t.Fatalf("expected total to be a cycle seed")
	}
}

func TestBuildRejectsCycleWithoutExit(t *testing.T) {
	_, err := Build([]NodeSpec{
		{Name: "a", Inputs: []string{"y"}, Outputs: []string{"x"}, Fn: nop},
		{Name: "b", Inputs: []string{"x"}, Outputs: []string{"y"}, Fn: nop},
	}, WithDefault("y", 0))
	var cfgErr *GraphConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected GraphConfigError, got %v", err)
	}
	want := []string{"a", "b"}
	if !reflect.DeepEqual(cfgErr.Nodes, want) {
		t.Fatalf("expected error to name %v, got %v", want, cfgErr.Nodes)
	}
}

func TestBuildRejectsUnseedableCycle(t *testing.T) {
	// Valid exit, but no default or declared input for any closing value.
	_, err := Build([]NodeSpec{
		{Name: "acc", Inputs: []string{"total"}, Outputs: []string{"total"}, Fn: nop},
		{Name: "more", Kind: KindBranch, Inputs: []string{"total"}, Targets: []string{"acc", End}, Fn: nop},
	})
	var dlErr *DeadlockError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DeadlockError, got %v", err)
	}
	if len(dlErr.Values) == 0 || dlErr.Values[0] != "total" {
		t.Fatalf("expected total among deadlocked values, got %v", dlErr.Values)
	}
}

func TestBuildAcceptsCycleSeededByDeclaredInput(t *testing.T) {
	_, err := Build([]NodeSpec{
		{Name: "acc", Inputs: []string{"total"}, Outputs: []string{"total"}, Fn: nop},
		{Name: "more", Kind: KindBranch, Inputs: []string{"total"}, Targets: []string{"acc", End}, Fn: nop},
	}, WithInput("total"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
}

func TestBuildRejectsSharedOutputWithoutCommonGate(t *testing.T) {
	_, err := Build([]NodeSpec{
		{Name: "a", Inputs: []string{"q"}, Outputs: []string{"x"}, Fn: nop},
		{Name: "b", Inputs: []string{"q"}, Outputs: []string{"x"}, Fn: nop},
	})
	var cfgErr *GraphConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected GraphConfigError, got %v", err)
	}
	want := []string{"a", "b"}
	if !reflect.DeepEqual(cfgErr.Nodes, want) {
		t.Fatalf("expected error to name %v, got %v", want, cfgErr.Nodes)
	}
}

func TestBuildAcceptsSharedOutputBehindCommonGate(t *testing.T) {
	g, err := Build([]NodeSpec{
		{Name: "pick", Kind: KindRoute, Inputs: []string{"q"}, Targets: []string{"a", "b"}, Fn: nop},
		{Name: "a", Inputs: []string{"q"}, Outputs: []string{"x"}, Fn: nop},
		{Name: "b", Inputs: []string{"q"}, Outputs: []string{"x"}, Fn: nop},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !g.IsGated("a") || !g.IsGated("b") {
		t.Fatalf("expected both producers to be gated")
	}
}

func TestEdgeCancelsDefault(t *testing.T) {
	g, err := Build([]NodeSpec{
		{Name: "make", Outputs: []string{"x"}, Fn: nop},
		{Name: "use", Inputs: []string{"x", "y"}, Fn: nop},
	}, WithDefault("x", "ignored"), WithDefault("y", "kept"))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defaults := g.Defaults()
	if _, ok := defaults["x"]; ok {
		t.Fatalf("default for produced value x should not survive")
	}
	if defaults["y"] != "kept" {
		t.Fatalf("default for unproduced value y should survive, got %v", defaults["y"])
	}
}

func TestRequiredInputsDerivation(t *testing.T) {
	g, err := Build([]NodeSpec{
		{Name: "a", Inputs: []string{"q", "seed"}, Outputs: []string{"x"}, Fn: nop},
		{Name: "b", Inputs: []string{"x"}, Fn: nop},
	}, WithDefault("seed", 1))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := []string{"q"}
	if !reflect.DeepEqual(g.RequiredInputs(), want) {
		t.Fatalf("expected required inputs %v, got %v", want, g.RequiredInputs())
	}
}

func TestCheckCapabilitiesNamesMissingFeatures(t *testing.T) {
	g, err := Build([]NodeSpec{
		{Name: "acc", Inputs: []string{"total"}, Outputs: []string{"total"}, Async: true, Fn: nop},
		{Name: "more", Kind: KindBranch, Inputs: []string{"total"}, Targets: []string{"acc", End}, Fn: nop},
	}, WithDefault("total", 0))
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := CheckCapabilities(g, FullCapabilities()); err != nil {
		t.Fatalf("full capabilities should accept the graph: %v", err)
	}
	err = CheckCapabilities(g, Capabilities{AsyncNodes: true})
	if err == nil {
		t.Fatalf("expected capability rejection")
	}
}
