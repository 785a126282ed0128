package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mlahtinen/weave/pkg/api"
)

// SQLiteStore is a Checkpointer backed by SQLite. It is the conformance
// backend for durable runs.
//
// It expects an *sql.DB using a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB

	// MaxPayload caps encoded blob sizes; DefaultMaxPayload unless
	// changed before first use. Zero disables the check.
	MaxPayload int
}

var _ Checkpointer = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, MaxPayload: DefaultMaxPayload}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS steps (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			node TEXT NOT NULL,
			status TEXT NOT NULL,
			generation INTEGER NOT NULL,
			outputs BLOB,
			decision TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_steps_run_step ON steps(run_id, step_id);

		CREATE TABLE IF NOT EXISTS checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			workflow_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			graph_name TEXT NOT NULL DEFAULT '',
			iteration INTEGER NOT NULL,
			status TEXT NOT NULL,
			state BLOB,
			interrupt_node TEXT NOT NULL DEFAULT '',
			interrupt_value BLOB,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow ON checkpoints(workflow_id, seq);
	`)
	return err
}

func (s *SQLiteStore) BeginStep(ctx context.Context, step *api.StepSnapshot) error {
	started := step.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (run_id, step_id, node, status, generation, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			outputs = NULL, decision = '', error = '', finished_at = 0`,
		step.RunID,
		step.ID,
		step.Node,
		string(step.Status),
		step.Generation,
		started.UnixNano(),
	)
	return err
}

// CompleteStep seals a step in a single UPDATE, so status and outputs
// commit as one unit.
func (s *SQLiteStore) CompleteStep(ctx context.Context, runID, stepID string, status api.StepStatus, outputs map[string]any, decision, errText string) error {
	blob, err := EncodeOutputs(outputs, s.MaxPayload)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE steps
		SET status = ?, outputs = ?, decision = ?, error = ?, finished_at = ?
		WHERE run_id = ? AND step_id = ?`,
		string(status),
		blob,
		decision,
		errText,
		time.Now().UnixNano(),
		runID,
		stepID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrStepNotFound
	}
	return nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *api.Checkpoint) (string, error) {
	state, err := EncodeState(cp.State, s.MaxPayload)
	if err != nil {
		return "", err
	}
	intVal, err := EncodeValue(cp.InterruptValue, s.MaxPayload)
	if err != nil {
		return "", err
	}

	id := cp.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := cp.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, workflow_id, run_id, graph_name, iteration, status, state, interrupt_node, interrupt_value, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		cp.WorkflowID,
		cp.RunID,
		cp.GraphName,
		cp.Iteration,
		string(cp.Status),
		state,
		cp.InterruptNode,
		intVal,
		cp.Error,
		created.UnixNano(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, workflowID, id string) (*api.Checkpoint, error) {
	query := `
		SELECT id, workflow_id, run_id, graph_name, iteration, status, state, interrupt_node, interrupt_value, error, created_at
		FROM checkpoints
		WHERE workflow_id = ?`
	args := []any{workflowID}
	if id != "" {
		query += ` AND id = ?`
		args = append(args, id)
	}
	query += ` ORDER BY seq DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)

	var (
		cp        api.Checkpoint
		statusStr string
		state     []byte
		intVal    []byte
		createdAt int64
	)
	err := row.Scan(&cp.ID, &cp.WorkflowID, &cp.RunID, &cp.GraphName, &cp.Iteration,
		&statusStr, &state, &cp.InterruptNode, &intVal, &cp.Error, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrCheckpointNotFound
		}
		return nil, err
	}

	cp.Status = api.RunStatus(statusStr)
	cp.CreatedAt = time.Unix(0, createdAt)
	if cp.State, err = DecodeState(state); err != nil {
		return nil, err
	}
	if cp.InterruptValue, err = DecodeValue(intVal); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]api.StepSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, run_id, node, status, generation, outputs, decision, error, started_at, finished_at
		FROM steps
		WHERE run_id = ?
		ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.StepSnapshot
	for rows.Next() {
		var (
			st         api.StepSnapshot
			statusStr  string
			outputs    []byte
			startedAt  int64
			finishedAt int64
		)
		if err := rows.Scan(&st.ID, &st.RunID, &st.Node, &statusStr, &st.Generation,
			&outputs, &st.Decision, &st.Error, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		st.Status = api.StepStatus(statusStr)
		st.StartedAt = time.Unix(0, startedAt)
		if finishedAt != 0 {
			st.FinishedAt = time.Unix(0, finishedAt)
		}
		if st.Outputs, err = DecodeOutputs(outputs); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
