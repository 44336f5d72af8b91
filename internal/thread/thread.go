// Package thread implements the Thread Manager (spec §4.G): one
// conversational loop iteration of load-context -> call LLM -> stream/parse
// -> dispatch tools -> persist -> decide continuation, modeled as an
// explicit phase enum, grounded on the teacher's phase-tagged workflow loop
// (runtime/agent/runtime/workflow_loop.go) but run as a plain goroutine loop
// rather than a durable-replay workflow (see SPEC_FULL.md Design Notes).
package thread

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loomrun/agentcore/internal/contextmgr"
	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/parser"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/store"
	"github.com/loomrun/agentcore/internal/streamfabric"
)

// llmMetrics is the subset of internal/telemetry.Metrics the loop needs,
// kept as a local interface so this package never imports internal/telemetry
// (same decoupling internal/dispatcher uses for its own toolMetrics).
type llmMetrics interface {
	RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// Phase names the stage of one loop iteration, mirroring the teacher's
// phase-tagged workflow loop for log/trace correlation.
type Phase string

const (
	PhasePromptBuild   Phase = "PROMPT_BUILD"
	PhaseLLMStream     Phase = "LLM_STREAM"
	PhaseParseDispatch Phase = "PARSE_DISPATCH"
	PhasePersist       Phase = "PERSIST"
	PhaseDecide        Phase = "DECIDE"
)

// terminalIntentTools are tool names whose successful invocation ends the
// loop regardless of whether the model produced more tool calls (spec
// §4.G decide-continuation rule).
var terminalIntentTools = map[string]bool{
	"complete":             true,
	"ask":                  true,
	"web-browser-takeover": true,
}

// Request configures one run of the loop.
type Request struct {
	ThreadID             ids.ID
	RunID                ids.ID
	Model                string
	SystemPrompt         string
	Temperature          float64
	MaxTokens            int
	MaxAutoContinues     int // default 25
	EnableContextManager bool
	EnableThinking       bool
	ReasoningEffort      string
	DispatchPolicy       dispatcher.Policy
}

func (r Request) withDefaults() Request {
	if r.MaxAutoContinues <= 0 {
		r.MaxAutoContinues = 25
	}
	return r
}

// Manager drives the conversational loop for one run.
type Manager struct {
	store      store.Store
	contextMgr *contextmgr.Manager
	llmClient  llm.Client
	registry   *registry.Registry
	dispatch   *dispatcher.Dispatcher
	fabric     streamfabric.Fabric
	metrics    llmMetrics
}

// New builds a Manager. dispatch should already be constructed with the
// registry and the thread's dispatch policy.
func New(s store.Store, ctxMgr *contextmgr.Manager, client llm.Client, reg *registry.Registry, dispatch *dispatcher.Dispatcher, fabric streamfabric.Fabric) *Manager {
	return &Manager{store: s, contextMgr: ctxMgr, llmClient: client, registry: reg, dispatch: dispatch, fabric: fabric}
}

// WithMetrics attaches m so every LLM_STREAM phase records a request count,
// duration and token usage. Nil-safe to call with a nil metrics.
func (m *Manager) WithMetrics(metrics llmMetrics) *Manager {
	m.metrics = metrics
	return m
}

// Outcome summarizes how the loop ended.
type Outcome struct {
	Iterations int
	Stopped    bool // true if ctx was canceled (spec §5 cooperative cancellation)
}

// Run drives the loop described in spec §4.G pseudocode until a terminal
// intent tool succeeds, no tool calls are produced, MaxAutoContinues is
// reached, or ctx is canceled.
func (m *Manager) Run(ctx context.Context, req Request) (Outcome, error) {
	req = req.withDefaults()
	out := Outcome{}

	for iter := 0; iter < req.MaxAutoContinues; iter++ {
		select {
		case <-ctx.Done():
			out.Stopped = true
			return out, ctx.Err()
		default:
		}

		out.Iterations++
		done, err := m.iterate(ctx, req)
		if err != nil {
			return out, err
		}
		if done {
			break
		}
	}

	if _, err := m.fabric.Publish(ctx, req.RunID, streamfabric.EventDone, map[string]any{}); err != nil {
		return out, errs.Wrap(errs.Internal, "publish done event", err)
	}
	return out, nil
}

// iterate runs exactly one PROMPT_BUILD -> LLM_STREAM -> PARSE_DISPATCH ->
// PERSIST -> DECIDE cycle. It returns done=true when the loop should stop.
func (m *Manager) iterate(ctx context.Context, req Request) (done bool, err error) {
	messages, err := m.promptBuild(ctx, req)
	if err != nil {
		return false, err
	}

	turn, err := m.llmStreamAndParse(ctx, req, messages)
	if err != nil {
		return false, err
	}

	results, err := m.persistAssistantTurn(ctx, req, turn)
	if err != nil {
		return false, err
	}

	return m.decide(turn.toolCalls, results), nil
}

// promptBuild is PHASE PROMPT_BUILD: the Context Manager prepares the
// LLM-visible message list (compacting it first if needed).
func (m *Manager) promptBuild(ctx context.Context, req Request) ([]*model.Message, error) {
	if !req.EnableContextManager || m.contextMgr == nil {
		return m.store.ListLLMMessages(ctx, req.ThreadID)
	}
	return m.contextMgr.Prepare(ctx, req.ThreadID, req.Model)
}

// turnResult carries everything one LLM_STREAM+PARSE_DISPATCH phase
// produced, to be persisted and decided upon next.
type turnResult struct {
	assistantText string
	toolCalls     []model.ToolCall
	results       []model.ToolResult
}

// llmStreamAndParse is PHASE LLM_STREAM + PARSE_DISPATCH: it streams the
// model's response, feeds every delta to the Response Parser, and, per the
// configured execute_on_stream policy, either dispatches tool calls
// concurrently with generation or buffers them until the stream ends.
func (m *Manager) llmStreamAndParse(ctx context.Context, req Request, messages []*model.Message) (turnResult, error) {
	chatReq := llm.ChatRequest{
		Model:       req.Model,
		Messages:    toChatMessages(req.SystemPrompt, messages),
		Tools:       toolDeclarations(m.registry),
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		Stream:          true,
		EnableThinking:  req.EnableThinking,
		ReasoningEffort: req.ReasoningEffort,
	}
	start := time.Now()
	var usage llm.Usage
	status := "success"
	if m.metrics != nil {
		defer func() {
			m.metrics.RecordLLMRequest(req.Model, status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
		}()
	}

	stream, err := m.llmClient.Chat(ctx, chatReq)
	if err != nil {
		status = "error"
		return turnResult{}, errs.Wrap(errs.UpstreamFailure, "llm chat request failed", err)
	}
	defer stream.Close()

	p := parser.New(m.registry, parser.Options{
		JSONEnabled: req.DispatchPolicy.NativeToolCalling,
		XMLEnabled:  req.DispatchPolicy.XMLToolCalling,
		MaxXMLCalls: req.DispatchPolicy.MaxXMLToolCalls,
	})

	var assistantText string
	var pending []model.ToolCall
	var inflight []inflightCall

	for {
		d, ok, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				status = "cancelled"
				return turnResult{}, errs.Wrap(errs.Cancelled, "llm stream cancelled", err)
			}
			status = "error"
			return turnResult{}, errs.Wrap(errs.UpstreamFailure, "llm stream failed", err)
		}
		if !ok {
			break
		}

		var events []parser.Event
		switch d.Kind {
		case llm.DeltaText:
			events, err = p.FeedText(d.Text)
			if err != nil {
				status = "error"
				return turnResult{}, errs.Wrap(errs.InvalidRequest, "response parse failed", err)
			}
		case llm.DeltaToolCall:
			events = p.FeedToolCall(d.ToolCall.Index, d.ToolCall.ID, d.ToolCall.Name, d.ToolCall.ArgumentsFrag, d.ToolCall.Done)
		case llm.DeltaUsage:
			usage = d.Usage
		}

		for _, evt := range events {
			switch evt.Kind {
			case parser.EventText:
				assistantText += evt.Text
				if _, err := m.fabric.Publish(ctx, req.RunID, streamfabric.EventAssistantChunk, evt.Text); err != nil {
					return turnResult{}, errs.Wrap(errs.Internal, "publish assistant chunk", err)
				}
			case parser.EventToolCall:
				call := evt.Call
				if _, err := m.fabric.Publish(ctx, req.RunID, streamfabric.EventToolStart, call); err != nil {
					return turnResult{}, errs.Wrap(errs.Internal, "publish tool start", err)
				}
				if evt.CoercionError != nil {
					inflight = append(inflight, inflightCall{call: call, result: model.ToolResult{
						CallID: call.CallID, Success: false, Error: evt.CoercionError.Error(),
					}})
					continue
				}
				if req.DispatchPolicy.ExecuteOnStream {
					results := m.dispatch.Execute(ctx, []model.ToolCall{call})
					inflight = append(inflight, inflightCall{call: call, result: results[0]})
				} else {
					pending = append(pending, call)
				}
			}
		}
	}

	if rest := p.Flush(); rest != "" {
		assistantText += rest
		if _, err := m.fabric.Publish(ctx, req.RunID, streamfabric.EventAssistantChunk, rest); err != nil {
			return turnResult{}, errs.Wrap(errs.Internal, "publish assistant chunk", err)
		}
	}

	if _, err := m.fabric.Publish(ctx, req.RunID, streamfabric.EventAssistantMessage, assistantText); err != nil {
		return turnResult{}, errs.Wrap(errs.Internal, "publish assistant message", err)
	}

	pendingResults := m.dispatch.Execute(ctx, pending)

	allCalls := make([]model.ToolCall, 0, len(inflight)+len(pending))
	results := make([]model.ToolResult, 0, len(inflight)+len(pending))
	for _, ic := range inflight {
		allCalls = append(allCalls, ic.call)
		results = append(results, ic.result)
	}
	allCalls = append(allCalls, pending...)
	results = append(results, pendingResults...)

	return turnResult{assistantText: assistantText, toolCalls: allCalls, results: results}, nil
}

type inflightCall struct {
	call   model.ToolCall
	result model.ToolResult
}

// persistAssistantTurn is PHASE PERSIST: it appends the assistant message
// and every tool result as messages, publishing tool_result events in
// parsed order.
func (m *Manager) persistAssistantTurn(ctx context.Context, req Request, turn turnResult) ([]model.ToolResult, error) {
	content, err := json.Marshal(assistantMessageContent{Text: turn.assistantText, ToolCalls: turn.toolCalls})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal assistant message", err)
	}
	if _, err := m.store.AppendMessage(ctx, req.ThreadID, model.MessageAssistant, content, true, nil); err != nil {
		return nil, errs.Wrap(errs.Internal, "persist assistant message", err)
	}

	for _, result := range turn.results {
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "marshal tool result", err)
		}
		if _, err := m.store.AppendMessage(ctx, req.ThreadID, model.MessageTool, payload, true, map[string]any{"call_id": result.CallID}); err != nil {
			return nil, errs.Wrap(errs.Internal, "persist tool result message", err)
		}
		if _, err := m.fabric.Publish(ctx, req.RunID, streamfabric.EventToolResult, result); err != nil {
			return nil, errs.Wrap(errs.Internal, "publish tool result", err)
		}
	}
	return turn.results, nil
}

// decide is PHASE DECIDE: spec §4.G's continuation rule.
func (m *Manager) decide(toolCalls []model.ToolCall, results []model.ToolResult) (done bool) {
	if len(toolCalls) == 0 {
		return true
	}
	succeeded := make(map[string]bool, len(results))
	for _, r := range results {
		succeeded[r.CallID] = r.Success
	}
	for _, call := range toolCalls {
		if terminalIntentTools[call.ToolName] && succeeded[call.CallID] {
			return true
		}
	}
	return false
}

type assistantMessageContent struct {
	Text      string          `json:"text"`
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`
}

func toChatMessages(systemPrompt string, msgs []*model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs)+1)
	if systemPrompt != "" {
		out = append(out, llm.ChatMessage{Role: llm.RoleSystem, Content: systemPrompt})
	}
	for _, msg := range msgs {
		out = append(out, messageToChat(msg))
	}
	return out
}

func messageToChat(msg *model.Message) llm.ChatMessage {
	role := llm.RoleUser
	switch msg.Type {
	case model.MessageAssistant:
		role = llm.RoleAssistant
	case model.MessageSystem:
		role = llm.RoleSystem
	case model.MessageTool:
		role = llm.RoleTool
	}
	var text string
	var amc assistantMessageContent
	if role == llm.RoleAssistant && json.Unmarshal(msg.Content, &amc) == nil && amc.Text != "" {
		text = amc.Text
	} else if err := json.Unmarshal(msg.Content, &text); err != nil {
		text = string(msg.Content)
	}
	return llm.ChatMessage{Role: role, Content: text}
}

func toolDeclarations(reg *registry.Registry) []llm.ToolDeclaration {
	schemas := reg.ListJSONSchemas()
	out := make([]llm.ToolDeclaration, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, llm.ToolDeclaration{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return out
}
