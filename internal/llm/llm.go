// Package llm abstracts the model providers behind a single streaming chat
// interface (SPEC_FULL §4.I). The Thread Manager and Context Manager never
// import a provider SDK directly; they depend only on this package.
package llm

import (
	"context"
)

// Role mirrors the conversational roles carried by model.Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is the provider-agnostic message shape sent to a Client.
type ChatMessage struct {
	Role       Role
	Content    string
	ToolCallID string // set on RoleTool messages, correlates to a prior tool call
	Name       string // tool name, set on RoleTool messages
}

// ToolDeclaration describes one callable tool for native (JSON) tool calling.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest carries everything needed to drive one model turn.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Tools       []ToolDeclaration
	ToolChoice  string // "auto", "none", or a specific tool name
	Temperature float64
	MaxTokens   int
	Stream      bool

	// EnableThinking and ReasoningEffort request a provider's extended
	// reasoning mode where supported (spec.md §6 AgentRunRequest fields);
	// providers that don't support it ignore them.
	EnableThinking  bool
	ReasoningEffort string // "low", "medium", "high", or "" (provider default)
}

// DeltaKind identifies the kind of incremental event a Stream yields.
type DeltaKind string

const (
	DeltaText      DeltaKind = "text"
	DeltaToolCall  DeltaKind = "tool_call"
	DeltaUsage     DeltaKind = "usage"
	DeltaDone      DeltaKind = "done"
)

// ToolCallDelta carries an incremental fragment of a native tool call. Index
// correlates fragments belonging to the same call across multiple deltas;
// Done is set on the fragment that completes the call's arguments.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgumentsFrag string
	Done         bool
}

// Usage reports token accounting for a completed turn.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Delta is one incremental event from a Stream.
type Delta struct {
	Kind     DeltaKind
	Text     string
	ToolCall ToolCallDelta
	Usage    Usage
}

// Stream yields Deltas for one in-flight chat turn.
type Stream interface {
	// Next blocks for the next delta. It returns io.EOF-compatible behavior via
	// a DeltaDone event followed by (Delta{}, false, nil); ok is false once the
	// stream is exhausted. An error aborts the stream.
	Next(ctx context.Context) (d Delta, ok bool, err error)
	// Close releases any resources held by the stream and, if the turn is
	// still in flight, signals the provider to stop generating (cancellation
	// propagation per spec §5).
	Close() error
}

// Client is the uniform interface every model provider backend implements.
type Client interface {
	// Chat starts (or continues, for non-streaming providers) a model turn and
	// returns a Stream of incremental deltas.
	Chat(ctx context.Context, req ChatRequest) (Stream, error)
}

// Router selects a Client backend by model name prefix (SPEC_FULL §4.I:
// "claude-*" -> Anthropic, "gpt-*"/default -> OpenAI-compatible, "bedrock/*"
// -> AWS Bedrock).
type Router struct {
	Anthropic Client
	OpenAI    Client
	Bedrock   Client
}

// Chat makes Router itself a Client: it dispatches to the backend For
// selects for req.Model, so callers (the Thread Manager, the HTTP
// transport's wiring) can hold a single llm.Client regardless of how many
// providers are configured.
func (r Router) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	return r.For(req.Model).Chat(ctx, req)
}

// For returns the Client backend responsible for model.
func (r Router) For(model string) Client {
	switch {
	case hasPrefix(model, "claude-"):
		return r.Anthropic
	case hasPrefix(model, "bedrock/"):
		return r.Bedrock
	default:
		return r.OpenAI
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
