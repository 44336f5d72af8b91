package memory

import (
	"context"
	"sync"
	"time"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store"
)

// ProjectStore is an in-memory store.ProjectStore.
type ProjectStore struct {
	mu       sync.Mutex
	projects map[ids.ID]*model.Project
	threads  map[ids.ID]*model.Thread
	now      store.Clock
}

func NewProjectStore(now store.Clock) *ProjectStore {
	if now == nil {
		now = time.Now
	}
	return &ProjectStore{
		projects: make(map[ids.ID]*model.Project),
		threads:  make(map[ids.ID]*model.Thread),
		now:      now,
	}
}

var _ store.ProjectStore = (*ProjectStore)(nil)

func (s *ProjectStore) EnsureProject(_ context.Context, accountID, projectID ids.ID) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[projectID]; ok {
		if p.AccountID != accountID {
			return nil, errs.New(errs.Conflict, "project already bound to a different account")
		}
		return p, nil
	}
	p := &model.Project{ProjectID: projectID, AccountID: accountID, CreatedAt: s.now()}
	s.projects[projectID] = p
	return p, nil
}

func (s *ProjectStore) GetProject(_ context.Context, projectID ids.ID) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, errs.New(errs.NotFound, "project not found")
	}
	cp := *p
	return &cp, nil
}

func (s *ProjectStore) SetSandboxRef(_ context.Context, projectID ids.ID, sandboxRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return errs.New(errs.NotFound, "project not found")
	}
	p.SandboxRef = sandboxRef
	return nil
}

func (s *ProjectStore) EnsureThread(_ context.Context, projectID, accountID, threadID ids.ID) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.threads[threadID]; ok {
		if t.ProjectID != projectID {
			return nil, errs.New(errs.Conflict, "thread's ProjectID must never be mutated")
		}
		return t, nil
	}
	t := &model.Thread{ThreadID: threadID, ProjectID: projectID, AccountID: accountID, CreatedAt: s.now()}
	s.threads[threadID] = t
	return t, nil
}

func (s *ProjectStore) GetThread(_ context.Context, threadID ids.ID) (*model.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, errs.New(errs.NotFound, "thread not found")
	}
	cp := *t
	return &cp, nil
}
