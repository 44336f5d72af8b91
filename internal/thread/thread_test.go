package thread_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/store/memory"
	"github.com/loomrun/agentcore/internal/streamfabric"
	"github.com/loomrun/agentcore/internal/thread"
)

// scriptedStream yields a fixed sequence of deltas, one per Next call.
type scriptedStream struct {
	deltas []llm.Delta
	i      int
}

func (s *scriptedStream) Next(context.Context) (llm.Delta, bool, error) {
	if s.i >= len(s.deltas) {
		return llm.Delta{}, false, nil
	}
	d := s.deltas[s.i]
	s.i++
	return d, true, nil
}
func (s *scriptedStream) Close() error { return nil }

type scriptedClient struct {
	turns [][]llm.Delta
	i     int
}

func (c *scriptedClient) Chat(context.Context, llm.ChatRequest) (llm.Stream, error) {
	if c.i >= len(c.turns) {
		return &scriptedStream{}, nil
	}
	s := &scriptedStream{deltas: c.turns[c.i]}
	c.i++
	return s, nil
}

func buildRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	spec, err := registry.Build("complete", "signal completion", map[string]any{"type": "object"}, "", nil,
		func(context.Context, json.RawMessage) (any, error) { return map[string]any{"ok": true}, nil })
	require.NoError(t, err)
	require.NoError(t, r.Register(spec))
	return r
}

func TestRunStopsOnTerminalIntentTool(t *testing.T) {
	reg := buildRegistry(t)
	s := memory.New(nil)
	fabric := streamfabric.NewInProcess(streamfabric.Options{})
	ctx := context.Background()
	threadID := ids.New()
	runID := ids.New()

	client := &scriptedClient{turns: [][]llm.Delta{
		{
			{Kind: llm.DeltaText, Text: "done"},
			{Kind: llm.DeltaToolCall, ToolCall: llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "complete", ArgumentsFrag: `{}`, Done: true}},
		},
	}}

	dispatch := dispatcher.New(reg, dispatcher.Policy{
		NativeToolCalling: true, ExecuteTools: true, ExecuteOnStream: false, Strategy: dispatcher.Sequential,
	}, nil)

	mgr := thread.New(s, nil, client, reg, dispatch, fabric)
	out, err := mgr.Run(ctx, thread.Request{
		ThreadID: threadID,
		RunID:    runID,
		Model:    "gpt-4",
		DispatchPolicy: dispatcher.Policy{
			NativeToolCalling: true, ExecuteTools: true, ExecuteOnStream: false, Strategy: dispatcher.Sequential,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Iterations)

	msgs, err := s.ListMessages(ctx, threadID)
	require.NoError(t, err)

	var sawAssistant, sawTool bool
	for _, m := range msgs {
		if m.Type == model.MessageAssistant {
			sawAssistant = true
		}
		if m.Type == model.MessageTool {
			sawTool = true
		}
	}
	require.True(t, sawAssistant)
	require.True(t, sawTool)
}

func TestRunStopsWhenNoToolCalls(t *testing.T) {
	reg := buildRegistry(t)
	s := memory.New(nil)
	fabric := streamfabric.NewInProcess(streamfabric.Options{})
	ctx := context.Background()
	threadID := ids.New()
	runID := ids.New()

	client := &scriptedClient{turns: [][]llm.Delta{
		{{Kind: llm.DeltaText, Text: "just text, no tools"}},
	}}
	dispatch := dispatcher.New(reg, dispatcher.Policy{NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential}, nil)

	mgr := thread.New(s, nil, client, reg, dispatch, fabric)
	out, err := mgr.Run(ctx, thread.Request{
		ThreadID:       threadID,
		RunID:          runID,
		Model:          "gpt-4",
		DispatchPolicy: dispatcher.Policy{NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Iterations)
}
