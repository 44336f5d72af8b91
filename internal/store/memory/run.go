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

// RunStore is a goroutine-safe in-memory implementation of store.RunStore.
type RunStore struct {
	mu   sync.Mutex
	runs map[ids.ID]*model.AgentRun
}

// NewRunStore builds an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[ids.ID]*model.AgentRun)}
}

var _ store.RunStore = (*RunStore)(nil)

func (s *RunStore) CreateRun(_ context.Context, run *model.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return errs.New(errs.Conflict, "run already exists: "+run.RunID.String())
	}
	cp := *run
	s.runs[run.RunID] = &cp
	return nil
}

func (s *RunStore) UpdateStatus(_ context.Context, runID ids.ID, status model.RunStatus, errMsg string, endedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return errs.New(errs.NotFound, "run not found: "+runID.String())
	}
	run.Status = status
	run.Error = errMsg
	run.EndedAt = endedAt
	return nil
}

func (s *RunStore) GetRun(_ context.Context, runID ids.ID) (*model.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, errs.New(errs.NotFound, "run not found: "+runID.String())
	}
	cp := *run
	return &cp, nil
}

func (s *RunStore) ListByStatus(_ context.Context, status model.RunStatus) ([]*model.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.AgentRun
	for _, run := range s.runs {
		if run.Status == status {
			cp := *run
			out = append(out, &cp)
		}
	}
	return out, nil
}
