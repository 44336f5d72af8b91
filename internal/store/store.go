// Package store defines the Message Store Facade (spec §4.D): a purely
// semantic append/query API over conversation messages. No SQL is exposed
// to callers; the legacy SQL-string parsing layer from the source system is
// explicitly abandoned (Design Notes).
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
)

// Store is the semantic message persistence API. Implementations must
// enforce the append-only, ordered contract: messages are never mutated or
// deleted except via DeleteByType.
type Store interface {
	// AppendMessage appends a new message to threadID and returns it with its
	// assigned MessageID and CreatedAt.
	AppendMessage(ctx context.Context, threadID ids.ID, msgType model.MessageType, content json.RawMessage, isLLM bool, metadata map[string]any) (*model.Message, error)

	// ListMessages returns every message in threadID, ordered by
	// (CreatedAt, MessageID).
	ListMessages(ctx context.Context, threadID ids.ID) ([]*model.Message, error)

	// ListLLMMessages returns only messages with IsLLMMessage=true, in order.
	// The result must be prefix-stable: a later call returns the earlier
	// result as a prefix, given no intervening DeleteByType call touched the
	// returned range (spec Testable Property 6).
	ListLLMMessages(ctx context.Context, threadID ids.ID) ([]*model.Message, error)

	// DeleteByType removes every message of the given type in threadID and
	// returns the count removed. Used by the Context Manager to replace
	// superseded summary messages.
	DeleteByType(ctx context.Context, threadID ids.ID, msgType model.MessageType) (int, error)
}

// ProjectStore persists Project and Thread records. Projects are created
// lazily on first run (spec §3 Lifecycle).
type ProjectStore interface {
	EnsureProject(ctx context.Context, accountID ids.ID, projectID ids.ID) (*model.Project, error)
	GetProject(ctx context.Context, projectID ids.ID) (*model.Project, error)
	SetSandboxRef(ctx context.Context, projectID ids.ID, sandboxRef string) error

	EnsureThread(ctx context.Context, projectID, accountID ids.ID, threadID ids.ID) (*model.Thread, error)
	GetThread(ctx context.Context, threadID ids.ID) (*model.Thread, error)
}

// RunStore persists AgentRun records so status survives a process
// restart (spec §4.H: "mirrors status transitions to a process-wide
// status registry ... so a client can query status after process
// restart"). The Run Manager is the only writer; GetRun/ListByStatus
// serve status queries and the crash-recovery sweep.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.AgentRun) error
	UpdateStatus(ctx context.Context, runID ids.ID, status model.RunStatus, errMsg string, endedAt *time.Time) error
	GetRun(ctx context.Context, runID ids.ID) (*model.AgentRun, error)
	ListByStatus(ctx context.Context, status model.RunStatus) ([]*model.AgentRun, error)
}

// Clock abstracts time.Now so tests can control CreatedAt ordering.
type Clock func() time.Time
