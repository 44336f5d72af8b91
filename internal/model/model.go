// Package model defines the core entities of the agent-run data model
// (spec §3): Project, Thread, Message, AgentRun, ToolSpec, ToolCall and
// ToolResult, along with the invariants callers must uphold.
package model

import (
	"encoding/json"
	"time"

	"github.com/loomrun/agentcore/internal/ids"
)

// MessageType enumerates the kinds of messages a thread can hold.
type MessageType string

const (
	MessageSystem    MessageType = "system"
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageTool      MessageType = "tool"
	MessageStatus    MessageType = "status"
	MessageSummary   MessageType = "summary"
)

// RunStatus enumerates the lifecycle states of an AgentRun. Transitions form
// a DAG: PENDING -> RUNNING -> {COMPLETED, STOPPED, FAILED}; terminal states
// are final.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunStopped   RunStatus = "STOPPED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether status is one of the terminal states.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunStopped, RunFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal transition
// per the run status DAG.
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case RunPending:
		return next == RunRunning || next == RunStopped || next == RunFailed
	case RunRunning:
		return next == RunCompleted || next == RunStopped || next == RunFailed
	default:
		return false
	}
}

// Account is a minimal stub entity: the billing/account service is a
// peripheral external collaborator (spec §1); this core only needs a stable
// foreign key for Project.AccountID.
type Account struct {
	AccountID ids.ID
	CreatedAt time.Time
}

// Project owns zero or more threads and at most one sandbox reference.
// Created lazily on first run.
type Project struct {
	ProjectID  ids.ID
	AccountID  ids.ID
	SandboxRef string
	CreatedAt  time.Time
}

// Thread owns an ordered list of messages. Immutable except for its message
// list; ThreadID -> ProjectID is a functional dependency that must never be
// mutated (Invariant 5).
type Thread struct {
	ThreadID  ids.ID
	ProjectID ids.ID
	AccountID ids.ID
	CreatedAt time.Time
}

// Message is an append-only entry in a thread's ordered log. Ordering within
// a thread is strictly by (CreatedAt, MessageID) (Invariant for tiebreak).
type Message struct {
	MessageID     ids.ID
	ThreadID      ids.ID
	Type          MessageType
	Content       json.RawMessage
	IsLLMMessage  bool
	Metadata      map[string]any
	CreatedAt     time.Time
}

// AgentRun is one end-to-end invocation of the conversational loop.
type AgentRun struct {
	RunID     ids.ID
	ThreadID  ids.ID
	ProjectID ids.ID
	Status    RunStatus
	Error     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// ToolOrigin identifies which calling convention produced a ToolCall.
type ToolOrigin string

const (
	OriginJSON ToolOrigin = "json"
	OriginXML  ToolOrigin = "xml"
)

// ToolCall is a single parsed invocation request, produced by the Response
// Parser and consumed by the Tool Dispatcher.
type ToolCall struct {
	CallID    string
	ToolName  string
	Arguments json.RawMessage
	Origin    ToolOrigin
}

// ToolResult is the outcome of executing a ToolCall. CallID must equal the
// CallID of exactly one prior ToolCall within the same iteration
// (Invariant 3).
type ToolResult struct {
	CallID  string
	Success bool
	Payload json.RawMessage
	Error   string
	Skipped bool
}
