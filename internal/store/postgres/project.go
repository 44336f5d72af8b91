package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store"
)

// ProjectStore is a pgxpool-backed store.ProjectStore.
type ProjectStore struct {
	pool *pgxpool.Pool
}

func NewProjectStore(pool *pgxpool.Pool) *ProjectStore {
	return &ProjectStore{pool: pool}
}

var _ store.ProjectStore = (*ProjectStore)(nil)

func (s *ProjectStore) EnsureProject(ctx context.Context, accountID, projectID ids.ID) (*model.Project, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (account_id) VALUES ($1) ON CONFLICT DO NOTHING`, accountID.String())
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "ensure account", err)
	}

	var p model.Project
	var pid, aid string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO projects (project_id, account_id) VALUES ($1, $2)
		 ON CONFLICT (project_id) DO UPDATE SET project_id = projects.project_id
		 RETURNING project_id, account_id, sandbox_ref, created_at`,
		projectID.String(), accountID.String(),
	).Scan(&pid, &aid, &p.SandboxRef, &p.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "ensure project", err)
	}
	p.ProjectID, p.AccountID = ids.ID(pid), ids.ID(aid)
	if p.AccountID != accountID {
		return nil, errs.New(errs.Conflict, "project already bound to a different account")
	}
	return &p, nil
}

func (s *ProjectStore) GetProject(ctx context.Context, projectID ids.ID) (*model.Project, error) {
	var p model.Project
	var pid, aid string
	err := s.pool.QueryRow(ctx,
		`SELECT project_id, account_id, sandbox_ref, created_at FROM projects WHERE project_id = $1`,
		projectID.String(),
	).Scan(&pid, &aid, &p.SandboxRef, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "project not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "get project", err)
	}
	p.ProjectID, p.AccountID = ids.ID(pid), ids.ID(aid)
	return &p, nil
}

func (s *ProjectStore) SetSandboxRef(ctx context.Context, projectID ids.ID, sandboxRef string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET sandbox_ref = $1 WHERE project_id = $2`, sandboxRef, projectID.String())
	if err != nil {
		return errs.Wrap(errs.Internal, "set sandbox ref", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New(errs.NotFound, "project not found")
	}
	return nil
}

func (s *ProjectStore) EnsureThread(ctx context.Context, projectID, accountID, threadID ids.ID) (*model.Thread, error) {
	var t model.Thread
	var tid, pid, aid string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO threads (thread_id, project_id, account_id) VALUES ($1, $2, $3)
		 ON CONFLICT (thread_id) DO UPDATE SET thread_id = threads.thread_id
		 RETURNING thread_id, project_id, account_id, created_at`,
		threadID.String(), projectID.String(), accountID.String(),
	).Scan(&tid, &pid, &aid, &t.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "ensure thread", err)
	}
	t.ThreadID, t.ProjectID, t.AccountID = ids.ID(tid), ids.ID(pid), ids.ID(aid)
	if t.ProjectID != projectID {
		return nil, errs.New(errs.Conflict, "thread's ProjectID must never be mutated")
	}
	return &t, nil
}

func (s *ProjectStore) GetThread(ctx context.Context, threadID ids.ID) (*model.Thread, error) {
	var t model.Thread
	var tid, pid, aid string
	err := s.pool.QueryRow(ctx,
		`SELECT thread_id, project_id, account_id, created_at FROM threads WHERE thread_id = $1`,
		threadID.String(),
	).Scan(&tid, &pid, &aid, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.New(errs.NotFound, "thread not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "get thread", err)
	}
	t.ThreadID, t.ProjectID, t.AccountID = ids.ID(tid), ids.ID(pid), ids.ID(aid)
	return &t, nil
}
