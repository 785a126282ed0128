package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the scheduler for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay the execution loop.
type Observer interface {
	// OnRunStart is called once when a run begins (fresh or resumed),
	// before the first generation is computed.
	OnRunStart(ctx context.Context, workflowID, runID, graphName string)

	// OnRunFinished is called when a run reaches a terminal or paused
	// state. err is non-nil only for RunFailed.
	OnRunFinished(ctx context.Context, workflowID, runID string, status RunStatus, err error)

	// OnGeneration is called before each generation executes, with the
	// iteration index and the ready node names.
	OnGeneration(ctx context.Context, runID string, iteration int, ready []string)

	// OnNodeStart is called before invoking a node body.
	OnNodeStart(ctx context.Context, runID, node, stepID string)

	// OnNodeFinished is called after a node body returns, for successes
	// and failures alike.
	OnNodeFinished(ctx context.Context, runID, node, stepID string, err error, duration time.Duration)

	// OnChunk is the streaming side channel: one call per chunk drained
	// from a node's Stream or channel return.
	OnChunk(ctx context.Context, runID, node string, chunk any)
}

// NoopObserver is an Observer that does nothing; the default when no
// observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, workflowID, runID, graphName string) {}
func (NoopObserver) OnRunFinished(ctx context.Context, workflowID, runID string, status RunStatus, err error) {
}
func (NoopObserver) OnGeneration(ctx context.Context, runID string, iteration int, ready []string) {}
func (NoopObserver) OnNodeStart(ctx context.Context, runID, node, stepID string)                  {}
func (NoopObserver) OnNodeFinished(ctx context.Context, runID, node, stepID string, err error, d time.Duration) {
}
func (NoopObserver) OnChunk(ctx context.Context, runID, node string, chunk any) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, workflowID, runID, graphName string) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, workflowID, runID, graphName)
	}
}

func (c *CompositeObserver) OnRunFinished(ctx context.Context, workflowID, runID string, status RunStatus, err error) {
	for _, o := range c.observers {
		o.OnRunFinished(ctx, workflowID, runID, status, err)
	}
}

func (c *CompositeObserver) OnGeneration(ctx context.Context, runID string, iteration int, ready []string) {
	for _, o := range c.observers {
		o.OnGeneration(ctx, runID, iteration, ready)
	}
}

func (c *CompositeObserver) OnNodeStart(ctx context.Context, runID, node, stepID string) {
	for _, o := range c.observers {
		o.OnNodeStart(ctx, runID, node, stepID)
	}
}

func (c *CompositeObserver) OnNodeFinished(ctx context.Context, runID, node, stepID string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnNodeFinished(ctx, runID, node, stepID, err, d)
	}
}

func (c *CompositeObserver) OnChunk(ctx context.Context, runID, node string, chunk any) {
	for _, o := range c.observers {
		o.OnChunk(ctx, runID, node, chunk)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / node lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, workflowID, runID, graphName string) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("workflow_id", workflowID),
		slog.String("run_id", runID),
		slog.String("graph", graphName),
	)
}

func (o *LoggingObserver) OnRunFinished(ctx context.Context, workflowID, runID string, status RunStatus, err error) {
	attrs := []any{
		slog.String("workflow_id", workflowID),
		slog.String("run_id", runID),
		slog.String("status", string(status)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		o.Logger.ErrorContext(ctx, "run_finished", attrs...)
		return
	}
	o.Logger.InfoContext(ctx, "run_finished", attrs...)
}

func (o *LoggingObserver) OnGeneration(ctx context.Context, runID string, iteration int, ready []string) {
	o.Logger.DebugContext(ctx, "generation",
		slog.String("run_id", runID),
		slog.Int("iteration", iteration),
		slog.Any("ready", ready),
	)
}

func (o *LoggingObserver) OnNodeStart(ctx context.Context, runID, node, stepID string) {
	o.Logger.DebugContext(ctx, "node_start",
		slog.String("run_id", runID),
		slog.String("node", node),
		slog.String("step_id", stepID),
	)
}

func (o *LoggingObserver) OnNodeFinished(ctx context.Context, runID, node, stepID string, err error, d time.Duration) {
	attrs := []any{
		slog.String("run_id", runID),
		slog.String("node", node),
		slog.String("step_id", stepID),
		slog.Duration("duration", d),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		o.Logger.WarnContext(ctx, "node_failed", attrs...)
		return
	}
	o.Logger.DebugContext(ctx, "node_completed", attrs...)
}

func (o *LoggingObserver) OnChunk(ctx context.Context, runID, node string, chunk any) {
	o.Logger.DebugContext(ctx, "node_chunk",
		slog.String("run_id", runID),
		slog.String("node", node),
	)
}

// BasicMetrics is an Observer that keeps cheap atomic counters. Useful
// for tests and for a quick health read on a long-lived engine.
type BasicMetrics struct {
	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
	runsPaused    atomic.Int64
	nodesRun      atomic.Int64
	nodesFailed   atomic.Int64
	chunks        atomic.Int64
}

// BasicMetricsSnapshot is a point-in-time copy of BasicMetrics counters.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsPaused    int64
	NodesRun      int64
	NodesFailed   int64
	Chunks        int64
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, workflowID, runID, graphName string) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunFinished(ctx context.Context, workflowID, runID string, status RunStatus, err error) {
	switch status {
	case RunCompleted:
		m.runsCompleted.Add(1)
	case RunFailed:
		m.runsFailed.Add(1)
	case RunInterrupted:
		m.runsPaused.Add(1)
	}
}

func (m *BasicMetrics) OnGeneration(ctx context.Context, runID string, iteration int, ready []string) {
}

func (m *BasicMetrics) OnNodeStart(ctx context.Context, runID, node, stepID string) {}

func (m *BasicMetrics) OnNodeFinished(ctx context.Context, runID, node, stepID string, err error, d time.Duration) {
	m.nodesRun.Add(1)
	if err != nil {
		m.nodesFailed.Add(1)
	}
}

func (m *BasicMetrics) OnChunk(ctx context.Context, runID, node string, chunk any) {
	m.chunks.Add(1)
}

// Snapshot returns the current counter values.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		RunsStarted:   m.runsStarted.Load(),
		RunsCompleted: m.runsCompleted.Load(),
		RunsFailed:    m.runsFailed.Load(),
		RunsPaused:    m.runsPaused.Load(),
		NodesRun:      m.nodesRun.Load(),
		NodesFailed:   m.nodesFailed.Load(),
		Chunks:        m.chunks.Load(),
	}
}
