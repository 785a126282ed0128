package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mlahtinen/weave/internal/persistence"
	"github.com/mlahtinen/weave/pkg/api"
)

// engineImpl is the in-process, single-writer scheduler implementation.
type engineImpl struct {
	cp       persistence.Checkpointer
	observer api.Observer
	caps     api.Capabilities
}

// Config describes how to construct an engineImpl. Only used inside
// this package; external callers use the helper constructors.
type Config struct {
	Checkpointer persistence.Checkpointer
	Observer     api.Observer

	// Capabilities defaults to FullCapabilities when zero.
	Capabilities api.Capabilities
}

// NewEngineWithConfig creates an Engine from cfg.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	cp := cfg.Checkpointer
	if cp == nil {
		cp = persistence.NewMemoryStore()
	}
	caps := cfg.Capabilities
	if caps == (api.Capabilities{}) {
		caps = api.FullCapabilities()
	}
	return &engineImpl{cp: cp, observer: obs, caps: caps}
}

// NewMemoryEngine returns an Engine backed by the in-memory store.
func NewMemoryEngine() api.Engine {
	return NewEngineWithConfig(Config{})
}

// NewMemoryEngineWithObserver returns an in-memory Engine with the
// given Observer.
func NewMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{Observer: obs})
}

// NewSQLiteEngine returns an Engine that checkpoints into SQLite.
func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Checkpointer: store}), nil
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the
// given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Checkpointer: store, Observer: obs}), nil
}

// NewPostgresEngine returns an Engine that checkpoints into PostgreSQL.
func NewPostgresEngine(ctx context.Context, pool *pgxpool.Pool) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Checkpointer: store}), nil
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with
// the given Observer.
func NewPostgresEngineWithObserver(ctx context.Context, pool *pgxpool.Pool, obs api.Observer) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(ctx, pool)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Checkpointer: store, Observer: obs}), nil
}

func (e *engineImpl) Run(ctx context.Context, g *api.Graph, inputs map[string]any, opts ...api.RunOption) (*api.RunResult, error) {
	cfg := api.NewRunConfig(opts...)

	if err := api.CheckCapabilities(g, e.caps); err != nil {
		return nil, err
	}

	if cfg.WorkflowID == "" {
		cfg.WorkflowID = uuid.NewString()
	} else if !cfg.Resume {
		res, fresh, err := e.applyReusePolicy(ctx, g, &cfg)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return res, res.Err
		}
	}

	r := &run{
		eng:        e,
		graph:      g,
		cfg:        cfg,
		workflowID: cfg.WorkflowID,
		runID:      uuid.NewString(),
		writer:     newDurableWriter(e.cp, cfg.Durability),
	}

	if cfg.Resume {
		if err := r.restore(ctx, inputs); err != nil {
			return nil, err
		}
	} else {
		r.state = api.NewState(g, inputs)
	}

	e.observer.OnRunStart(ctx, r.workflowID, r.runID, g.Name())
	return r.loop(ctx)
}

func (e *engineImpl) Resume(ctx context.Context, g *api.Graph, workflowID string, inputs map[string]any, opts ...api.RunOption) (*api.RunResult, error) {
	opts = append(opts, api.WithWorkflowID(workflowID), api.WithResume(""))
	return e.Run(ctx, g, inputs, opts...)
}

func (e *engineImpl) LoadCheckpoint(ctx context.Context, workflowID, id string) (*api.Checkpoint, error) {
	return e.cp.LoadCheckpoint(ctx, workflowID, id)
}

func (e *engineImpl) ListSteps(ctx context.Context, runID string) ([]api.StepSnapshot, error) {
	return e.cp.ListSteps(ctx, runID)
}

// applyReusePolicy decides what to do when the workflow id already has
// history. fresh=true means the caller should start a new run.
func (e *engineImpl) applyReusePolicy(ctx context.Context, g *api.Graph, cfg *api.RunConfig) (*api.RunResult, bool, error) {
	existing, err := e.cp.LoadCheckpoint(ctx, cfg.WorkflowID, "")
	if err != nil {
		if errors.Is(err, api.ErrCheckpointNotFound) {
			return nil, true, nil
		}
		return nil, false, err
	}

	switch cfg.Reuse {
	case api.ReuseTerminate:
		// The old run is simply superseded; its checkpoints stay as
		// history under the same workflow id.
		return nil, true, nil
	case api.ReuseReject:
		return nil, false, &api.WorkflowAlreadyExistsError{WorkflowID: cfg.WorkflowID, Status: existing.Status}
	case api.ReuseIfFailed:
		if existing.Status == api.RunFailed {
			return nil, true, nil
		}
		return nil, false, &api.WorkflowAlreadyExistsError{WorkflowID: cfg.WorkflowID, Status: existing.Status}
	case api.ReuseReturnExisting, "":
		return resultFromCheckpoint(existing), false, nil
	default:
		return nil, false, fmt.Errorf("unknown reuse policy %q", cfg.Reuse)
	}
}

// resultFromCheckpoint converts a stored checkpoint into the RunResult
// the original caller would have received.
func resultFromCheckpoint(cp *api.Checkpoint) *api.RunResult {
	res := &api.RunResult{
		Status:     cp.Status,
		Values:     cp.Values(),
		WorkflowID: cp.WorkflowID,
		RunID:      cp.RunID,
	}
	switch cp.Status {
	case api.RunInterrupted:
		res.Pause = &api.Pause{Node: cp.InterruptNode, Value: cp.InterruptValue, Checkpoint: cp}
	case api.RunFailed:
		if cp.Error != "" {
			res.Err = errors.New(cp.Error)
		}
	}
	return res
}
