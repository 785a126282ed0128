package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mlahtinen/weave/pkg/api"
)

// PostgresStore is a Checkpointer backed by PostgreSQL via pgx.
type PostgresStore struct {
	db *pgxpool.Pool

	// MaxPayload caps encoded blob sizes; DefaultMaxPayload unless
	// changed before first use. Zero disables the check.
	MaxPayload int
}

var _ Checkpointer = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema and returns a new
// PostgresStore backed by the given pgx connection pool.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{db: db, MaxPayload: DefaultMaxPayload}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS weave_steps (
			seq BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			node TEXT NOT NULL,
			status TEXT NOT NULL,
			generation INTEGER NOT NULL,
			outputs BYTEA,
			decision TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL DEFAULT 0,
			UNIQUE (run_id, step_id)
		);

		CREATE TABLE IF NOT EXISTS weave_checkpoints (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			workflow_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			graph_name TEXT NOT NULL DEFAULT '',
			iteration INTEGER NOT NULL,
			status TEXT NOT NULL,
			state BYTEA,
			interrupt_node TEXT NOT NULL DEFAULT '',
			interrupt_value BYTEA,
			error TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_weave_checkpoints_workflow ON weave_checkpoints(workflow_id, seq);
	`)
	return err
}

func (s *PostgresStore) BeginStep(ctx context.Context, step *api.StepSnapshot) error {
	started := step.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO weave_steps (run_id, step_id, node, status, generation, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, step_id) DO UPDATE SET
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			outputs = NULL, decision = '', error = '', finished_at = 0`,
		step.RunID, step.ID, step.Node, string(step.Status), step.Generation, started.UnixNano(),
	)
	return err
}

func (s *PostgresStore) CompleteStep(ctx context.Context, runID, stepID string, status api.StepStatus, outputs map[string]any, decision, errText string) error {
	blob, err := EncodeOutputs(outputs, s.MaxPayload)
	if err != nil {
		return err
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE weave_steps
		SET status = $1, outputs = $2, decision = $3, error = $4, finished_at = $5
		WHERE run_id = $6 AND step_id = $7`,
		string(status), blob, decision, errText, time.Now().UnixNano(), runID, stepID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return api.ErrStepNotFound
	}
	return nil
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *api.Checkpoint) (string, error) {
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

	_, err = s.db.Exec(ctx, `
		INSERT INTO weave_checkpoints (id, workflow_id, run_id, graph_name, iteration, status, state, interrupt_node, interrupt_value, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, cp.WorkflowID, cp.RunID, cp.GraphName, cp.Iteration, string(cp.Status),
		state, cp.InterruptNode, intVal, cp.Error, created.UnixNano(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *PostgresStore) LoadCheckpoint(ctx context.Context, workflowID, id string) (*api.Checkpoint, error) {
	query := `
		SELECT id, workflow_id, run_id, graph_name, iteration, status, state, interrupt_node, interrupt_value, error, created_at
		FROM weave_checkpoints
		WHERE workflow_id = $1`
	args := []any{workflowID}
	if id != "" {
		query += ` AND id = $2`
		args = append(args, id)
	}
	query += ` ORDER BY seq DESC LIMIT 1`

	var (
		cp        api.Checkpoint
		statusStr string
		state     []byte
		intVal    []byte
		createdAt int64
	)
	err := s.db.QueryRow(ctx, query, args...).Scan(
		&cp.ID, &cp.WorkflowID, &cp.RunID, &cp.GraphName, &cp.Iteration,
		&statusStr, &state, &cp.InterruptNode, &intVal, &cp.Error, &createdAt,
	)
	if err != nil {
		if isNoRows(err) {
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

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]api.StepSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT step_id, run_id, node, status, generation, outputs, decision, error, started_at, finished_at
		FROM weave_steps
		WHERE run_id = $1
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

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
