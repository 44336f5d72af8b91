package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store"
)

// RunStore is a pgxpool-backed store.RunStore over the agent_runs table.
type RunStore struct {
	*Store
}

// NewRunStore wraps s's pool for agent_runs persistence.
func NewRunStore(s *Store) *RunStore {
	return &RunStore{Store: s}
}

var _ store.RunStore = (*RunStore)(nil)

func (r *RunStore) CreateRun(ctx context.Context, run *model.AgentRun) error {
	const q = `INSERT INTO agent_runs (run_id, thread_id, project_id, status, error, started_at)
	           VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.pool.Exec(ctx, q,
		run.RunID.String(), run.ThreadID.String(), run.ProjectID.String(), string(run.Status), run.Error, run.StartedAt,
	); err != nil {
		return errs.Wrap(errs.Internal, "create agent run", err)
	}
	return nil
}

func (r *RunStore) UpdateStatus(ctx context.Context, runID ids.ID, status model.RunStatus, errMsg string, endedAt *time.Time) error {
	const q = `UPDATE agent_runs SET status = $2, error = $3, ended_at = $4 WHERE run_id = $1`
	tag, err := r.pool.Exec(ctx, q, runID.String(), string(status), errMsg, endedAt)
	if err != nil {
		return errs.Wrap(errs.Internal, "update agent run status", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, "run not found: "+runID.String())
	}
	return nil
}

func (r *RunStore) GetRun(ctx context.Context, runID ids.ID) (*model.AgentRun, error) {
	const q = `SELECT run_id, thread_id, project_id, status, error, started_at, ended_at
	           FROM agent_runs WHERE run_id = $1`
	row := r.pool.QueryRow(ctx, q, runID.String())
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.NotFound, "run not found: "+runID.String())
		}
		return nil, errs.Wrap(errs.Internal, "get agent run", err)
	}
	return run, nil
}

func (r *RunStore) ListByStatus(ctx context.Context, status model.RunStatus) ([]*model.AgentRun, error) {
	const q = `SELECT run_id, thread_id, project_id, status, error, started_at, ended_at
	           FROM agent_runs WHERE status = $1`
	rows, err := r.pool.Query(ctx, q, string(status))
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list agent runs by status", err)
	}
	defer rows.Close()

	var out []*model.AgentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "scan agent run", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Internal, "list agent runs by status", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.AgentRun, error) {
	var (
		runID, threadID, projectID, status string
		errMsg                             string
		startedAt                          time.Time
		endedAt                            *time.Time
	)
	if err := row.Scan(&runID, &threadID, &projectID, &status, &errMsg, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	return &model.AgentRun{
		RunID:     ids.ID(runID),
		ThreadID:  ids.ID(threadID),
		ProjectID: ids.ID(projectID),
		Status:    model.RunStatus(status),
		Error:     errMsg,
		StartedAt: startedAt,
		EndedAt:   endedAt,
	}, nil
}
