// Package contextmgr implements the Context Manager (spec §4.E): it keeps
// the LLM-visible message list within a model-specific token budget by
// summarizing the oldest messages once a threshold is crossed.
package contextmgr

import (
	"context"
	"encoding/json"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store"
)

// Estimator estimates the token count of a string. Not exact tokenization
// (Open Question resolution, SPEC_FULL.md): a pluggable interface lets
// callers swap in a model-specific tokenizer later without touching the
// compaction algorithm.
type Estimator interface {
	Estimate(s string) int
}

// CharsPerToken is the default Estimator: conservative chars/4 heuristic.
type CharsPerToken struct {
	Ratio float64 // chars per token; defaults to 4 when zero.
}

func (c CharsPerToken) Estimate(s string) int {
	ratio := c.Ratio
	if ratio <= 0 {
		ratio = 4
	}
	n := float64(len(s)) / ratio
	if n < 0 {
		n = 0
	}
	return int(n) + 1
}

// Budgets maps an exact model name to its token budget, sourced from
// LLM_TOKEN_BUDGETS.
type Budgets map[string]int

// Lookup returns the budget for model, falling back to "default" then a
// hardcoded floor.
func (b Budgets) Lookup(modelName string) int {
	if n, ok := b[modelName]; ok {
		return n
	}
	if n, ok := b["default"]; ok {
		return n
	}
	return 128_000
}

// Options configures the Manager's thresholds (spec §6 env vars).
type Options struct {
	ThresholdRatio float64 // default 0.75
	TargetRatio    float64 // default 0.40
}

func (o Options) withDefaults() Options {
	if o.ThresholdRatio <= 0 {
		o.ThresholdRatio = 0.75
	}
	if o.TargetRatio <= 0 {
		o.TargetRatio = 0.40
	}
	return o
}

// Manager implements the per-iteration compaction algorithm.
type Manager struct {
	store     store.Store
	llmClient llm.Client
	estimator Estimator
	budgets   Budgets
	opts      Options
}

// New builds a Manager. estimator defaults to CharsPerToken{}.
func New(s store.Store, client llm.Client, budgets Budgets, estimator Estimator, opts Options) *Manager {
	if estimator == nil {
		estimator = CharsPerToken{}
	}
	return &Manager{store: s, llmClient: client, estimator: estimator, budgets: budgets, opts: opts.withDefaults()}
}

const summarizationSystemPrompt = "Summarize the following conversation messages concisely, preserving any facts, decisions, file paths, or tool results a future turn would need. Output plain text only."

// Prepare returns the message list the next LLM prompt should be built
// from. The list holds no system message. Under the threshold it is every
// summary followed by the raw messages no summary covers. Over it, the
// oldest raw messages that fit the target ratio are kept as the head and
// every later message, the newest included, is folded into one new summary
// placed after the head; no raw message follows that summary. In that case
// it deletes the thread's prior summaries and appends the new one.
func (m *Manager) Prepare(ctx context.Context, threadID ids.ID, modelName string) ([]*model.Message, error) {
	all, err := m.store.ListLLMMessages(ctx, threadID)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "list llm messages", err)
	}

	summaries, raw := splitSummaries(all)
	visible := visibleRaw(raw, summaries)
	effective := append(append([]*model.Message{}, summaries...), visible...)

	budget := m.budgets.Lookup(modelName)
	total := m.estimateAll(effective)
	if float64(total) <= m.opts.ThresholdRatio*float64(budget) {
		return effective, nil
	}

	head, tail := m.partition(raw, m.opts.TargetRatio*float64(budget))
	if len(tail) == 0 {
		return effective, nil
	}

	summary, err := m.summarize(ctx, threadID, tail, modelName)
	if err != nil {
		return nil, err
	}

	out := append([]*model.Message{}, head...)
	return append(out, summary), nil
}

// splitSummaries separates summary messages from raw (non-summary) messages,
// both preserving the input order.
func splitSummaries(all []*model.Message) (summaries, raw []*model.Message) {
	for _, msg := range all {
		if msg.Type == model.MessageSummary {
			summaries = append(summaries, msg)
		} else {
			raw = append(raw, msg)
		}
	}
	return summaries, raw
}

// visibleRaw filters raw to the messages not covered by any summary's
// metadata.covers range (spec §4.E step 5: "head messages outside any
// summary's coverage").
func visibleRaw(raw []*model.Message, summaries []*model.Message) []*model.Message {
	if len(summaries) == 0 {
		return raw
	}
	covered := make(map[string]bool)
	for _, s := range summaries {
		first, last, ok := coversRange(s)
		if !ok {
			continue
		}
		marking := false
		for _, msg := range raw {
			id := msg.MessageID.String()
			if id == first {
				marking = true
			}
			if marking {
				covered[id] = true
			}
			if id == last {
				marking = false
			}
		}
	}
	out := raw[:0:0]
	for _, msg := range raw {
		if !covered[msg.MessageID.String()] {
			out = append(out, msg)
		}
	}
	return out
}

// coversRange reads metadata.covers, accepting both the []string shape
// produced in-process and the []any-of-string shape a JSON round trip
// (Postgres-backed store) produces.
func coversRange(s *model.Message) (first, last string, ok bool) {
	raw, present := s.Metadata["covers"]
	if !present {
		return "", "", false
	}
	switch v := raw.(type) {
	case []string:
		if len(v) != 2 {
			return "", "", false
		}
		return v[0], v[1], true
	case []any:
		if len(v) != 2 {
			return "", "", false
		}
		f, ok1 := v[0].(string)
		l, ok2 := v[1].(string)
		return f, l, ok1 && ok2
	default:
		return "", "", false
	}
}

// partition splits msgs (oldest-first) into a head whose combined estimate
// stays within targetBudget and a tail of the remainder (spec §4.E step 3).
func (m *Manager) partition(msgs []*model.Message, targetBudget float64) (head, tail []*model.Message) {
	running := 0.0
	cut := len(msgs)
	for i, msg := range msgs {
		running += float64(m.estimateMessage(msg))
		if running > targetBudget {
			cut = i
			break
		}
	}
	return msgs[:cut], msgs[cut:]
}

// summarize deletes every summary message of the thread, submits tail to
// the LLM for summarization and persists the result covering tail's first
// to last message. Prepare passes a tail that runs through the newest raw
// message, so the new summary replaces the prior ones rather than adding
// to them.
func (m *Manager) summarize(ctx context.Context, threadID ids.ID, tail []*model.Message, modelName string) (*model.Message, error) {
	if _, err := m.store.DeleteByType(ctx, threadID, model.MessageSummary); err != nil {
		return nil, errs.Wrap(errs.Internal, "delete prior summary", err)
	}

	req := llm.ChatRequest{
		Model: modelName,
		Messages: append([]llm.ChatMessage{
			{Role: llm.RoleSystem, Content: summarizationSystemPrompt},
		}, toChatMessages(tail)...),
	}
	stream, err := m.llmClient.Chat(ctx, req)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, "summarization request failed", err)
	}
	defer stream.Close()
	var text string
	for {
		d, ok, err := stream.Next(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.UpstreamFailure, "summarization stream failed", err)
		}
		if !ok {
			break
		}
		if d.Kind == llm.DeltaText {
			text += d.Text
		}
	}

	covers := []string{tail[0].MessageID.String(), tail[len(tail)-1].MessageID.String()}
	meta := map[string]any{"covers": covers}
	content, err := json.Marshal(text)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal summary content", err)
	}
	summary, err := m.store.AppendMessage(ctx, threadID, model.MessageSummary, content, true, meta)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "append summary message", err)
	}
	return summary, nil
}

func (m *Manager) estimateAll(msgs []*model.Message) int {
	total := 0
	for _, msg := range msgs {
		total += m.estimateMessage(msg)
	}
	return total
}

func (m *Manager) estimateMessage(msg *model.Message) int {
	return m.estimator.Estimate(string(msg.Content))
}

func toChatMessages(msgs []*model.Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		var text string
		if err := json.Unmarshal(msg.Content, &text); err != nil {
			text = string(msg.Content)
		}
		role := llm.RoleUser
		switch msg.Type {
		case model.MessageAssistant:
			role = llm.RoleAssistant
		case model.MessageSystem:
			role = llm.RoleSystem
		case model.MessageTool:
			role = llm.RoleTool
		}
		out = append(out, llm.ChatMessage{Role: role, Content: text})
	}
	return out
}
