package contextmgr_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/contextmgr"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store/memory"
)

type fakeStream struct {
	text string
	sent bool
}

func (f *fakeStream) Next(_ context.Context) (llm.Delta, bool, error) {
	if f.sent {
		return llm.Delta{}, false, nil
	}
	f.sent = true
	return llm.Delta{Kind: llm.DeltaText, Text: f.text}, true, nil
}

func (f *fakeStream) Close() error { return nil }

type fakeClient struct{ replies string }

func (f fakeClient) Chat(context.Context, llm.ChatRequest) (llm.Stream, error) {
	return &fakeStream{text: f.replies}, nil
}

func marshal(t *testing.T, s string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestPrepareReturnsUnchangedBelowThreshold(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	threadID := ids.New()
	_, err := s.AppendMessage(ctx, threadID, model.MessageUser, marshal(t, "hi"), true, nil)
	require.NoError(t, err)

	mgr := contextmgr.New(s, fakeClient{replies: "summary"}, contextmgr.Budgets{"default": 100000}, nil, contextmgr.Options{})
	msgs, err := mgr.Prepare(ctx, threadID, "gpt-4")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestPrepareSummarizesWhenOverThreshold(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	threadID := ids.New()

	long := strings.Repeat("word ", 200)
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, threadID, model.MessageUser, marshal(t, long), true, nil)
		require.NoError(t, err)
	}

	mgr := contextmgr.New(s, fakeClient{replies: "concise summary"}, contextmgr.Budgets{"default": 200}, nil, contextmgr.Options{})
	msgs, err := mgr.Prepare(ctx, threadID, "gpt-4")
	require.NoError(t, err)
	require.NotEmpty(t, msgs)

	last := msgs[len(msgs)-1]
	require.Equal(t, model.MessageSummary, last.Type)
	var text string
	require.NoError(t, json.Unmarshal(last.Content, &text))
	require.Equal(t, "concise summary", text)

	covers, ok := last.Metadata["covers"].([]string)
	require.True(t, ok)
	require.Len(t, covers, 2)
}

func TestResummarizeReplacesPriorSummary(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	threadID := ids.New()

	long := strings.Repeat("word ", 200)
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, threadID, model.MessageUser, marshal(t, long), true, nil)
		require.NoError(t, err)
	}

	mgr := contextmgr.New(s, fakeClient{replies: "first summary"}, contextmgr.Budgets{"default": 200}, nil, contextmgr.Options{})
	_, err := mgr.Prepare(ctx, threadID, "gpt-4")
	require.NoError(t, err)

	// New messages push the thread back over threshold; the tail selected
	// this time includes the still-unsummarized new messages, and the
	// manager must replace, not accumulate, summary messages.
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, threadID, model.MessageUser, marshal(t, long), true, nil)
		require.NoError(t, err)
	}

	mgr2 := contextmgr.New(s, fakeClient{replies: "second summary"}, contextmgr.Budgets{"default": 200}, nil, contextmgr.Options{})
	msgs, err := mgr2.Prepare(ctx, threadID, "gpt-4")
	require.NoError(t, err)

	var summaryCount int
	for _, m := range msgs {
		if m.Type == model.MessageSummary {
			summaryCount++
		}
	}
	require.Equal(t, 1, summaryCount)
}
