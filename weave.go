package weave

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mlahtinen/weave/internal/engine"
	"github.com/mlahtinen/weave/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Graph                = api.Graph
	NodeSpec             = api.NodeSpec
	NodeFunc             = api.NodeFunc
	NodeKind             = api.NodeKind
	Stream               = api.Stream
	Decision             = api.Decision
	State                = api.State
	StepSnapshot         = api.StepSnapshot
	Checkpoint           = api.Checkpoint
	RunResult            = api.RunResult
	RunStatus            = api.RunStatus
	StepStatus           = api.StepStatus
	RunOption            = api.RunOption
	BuildOption          = api.BuildOption
	RetryPolicy          = api.RetryPolicy
	ReusePolicy          = api.ReusePolicy
	DurabilityMode       = api.DurabilityMode
	Capabilities         = api.Capabilities
	Pause                = api.Pause
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	BuildGraph           = api.Build
	WithName             = api.WithName
	WithDefault          = api.WithDefault
	WithInput            = api.WithInput
	WithWorkflowID       = api.WithWorkflowID
	WithResume           = api.WithResume
	WithReusePolicy      = api.WithReusePolicy
	WithMaxIterations    = api.WithMaxIterations
	WithContinueOnError  = api.WithContinueOnError
	WithDurability       = api.WithDurability
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	CheckCapabilities    = api.CheckCapabilities
	FullCapabilities     = api.FullCapabilities
)

// Re-export status and policy values for convenience.

const (
	End = api.End

	KindCompute   = api.KindCompute
	KindRoute     = api.KindRoute
	KindBranch    = api.KindBranch
	KindInterrupt = api.KindInterrupt

	StepCreated     = api.StepCreated
	StepRunning     = api.StepRunning
	StepCompleted   = api.StepCompleted
	StepFailed      = api.StepFailed
	StepInterrupted = api.StepInterrupted

	RunRunning     = api.RunRunning
	RunInterrupted = api.RunInterrupted
	RunCompleted   = api.RunCompleted
	RunFailed      = api.RunFailed

	ReuseReturnExisting = api.ReuseReturnExisting
	ReuseReject         = api.ReuseReject
	ReuseTerminate      = api.ReuseTerminate
	ReuseIfFailed       = api.ReuseIfFailed

	DurabilitySync  = api.DurabilitySync
	DurabilityAsync = api.DurabilityAsync
	DurabilityExit  = api.DurabilityExit
)

// Engine constructors
// These wrap the internal/engine package so external callers never need
// to import internal packages.

// NewInMemoryEngine returns an Engine backed by the in-memory
// checkpoint store. Not crash-durable; interrupts and resume work
// within one process lifetime.
func NewInMemoryEngine() Engine {
	return engine.NewMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the
// given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that checkpoints runs into a SQLite
// database, surviving process crashes.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the
// given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewPostgresEngine returns an Engine that checkpoints runs into
// PostgreSQL.
func NewPostgresEngine(ctx context.Context, pool *pgxpool.Pool) (Engine, error) {
	return engine.NewPostgresEngine(ctx, pool)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with
// the given Observer.
func NewPostgresEngineWithObserver(ctx context.Context, pool *pgxpool.Pool, obs Observer) (Engine, error) {
	return engine.NewPostgresEngineWithObserver(ctx, pool, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Run executes a graph to completion, failure, or interrupt.
func Run(ctx context.Context, eng Engine, g *Graph, inputs map[string]any, opts ...RunOption) (*RunResult, error) {
	return eng.Run(ctx, g, inputs, opts...)
}

// Resume restores a workflow's latest checkpoint and continues it,
// merging inputs over the restored values.
func Resume(ctx context.Context, eng Engine, g *Graph, workflowID string, inputs map[string]any, opts ...RunOption) (*RunResult, error) {
	return eng.Resume(ctx, g, workflowID, inputs, opts...)
}
