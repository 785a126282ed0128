package api

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingObserver struct {
	NoopObserver
	starts int
	chunks int
}

func (o *countingObserver) OnRunStart(ctx context.Context, workflowID, runID, graphName string) {
	o.starts++
}

func (o *countingObserver) OnChunk(ctx context.Context, runID, node string, chunk any) {
	o.chunks++
}

func TestCompositeObserverFansOut(t *testing.T) {
	ctx := context.Background()
	a := &countingObserver{}
	b := &countingObserver{}

	obs := NewCompositeObserver(a, nil, b)
	obs.OnRunStart(ctx, "wf", "run", "g")
	obs.OnChunk(ctx, "run", "n", "c")

	if a.starts != 1 || b.starts != 1 {
		t.Fatalf("expected both observers to see the start, got %d and %d", a.starts, b.starts)
	}
	if a.chunks != 1 || b.chunks != 1 {
		t.Fatalf("expected both observers to see the chunk, got %d and %d", a.chunks, b.chunks)
	}
}

func TestCompositeObserverCollapses(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatalf("empty composite should collapse to NoopObserver")
	}
	single := &countingObserver{}
	if got := NewCompositeObserver(single, nil); got != Observer(single) {
		t.Fatalf("single-observer composite should return the observer itself")
	}
}

func TestBasicMetricsCounts(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetrics{}

	m.OnRunStart(ctx, "wf", "r1", "g")
	m.OnRunFinished(ctx, "wf", "r1", RunCompleted, nil)
	m.OnRunStart(ctx, "wf", "r2", "g")
	m.OnRunFinished(ctx, "wf", "r2", RunFailed, errors.New("boom"))
	m.OnRunStart(ctx, "wf", "r3", "g")
	m.OnRunFinished(ctx, "wf", "r3", RunInterrupted, nil)

	m.OnNodeFinished(ctx, "r1", "n", "0.0", nil, time.Millisecond)
	m.OnNodeFinished(ctx, "r2", "n", "1.0", errors.New("boom"), time.Millisecond)
	m.OnChunk(ctx, "r1", "n", "chunk")

	snap := m.Snapshot()
	if snap.RunsStarted != 3 || snap.RunsCompleted != 1 || snap.RunsFailed != 1 || snap.RunsPaused != 1 {
		t.Fatalf("unexpected run counters: %+v", snap)
	}
	if snap.NodesRun != 2 || snap.NodesFailed != 1 || snap.Chunks != 1 {
		t.Fatalf("unexpected node counters: %+v", snap)
	}
}
