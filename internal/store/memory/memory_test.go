package memory_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/store/memory"
)

func TestAppendAndListPreservesOrder(t *testing.T) {
	tick := time.Unix(0, 0)
	s := memory.New(func() time.Time {
		t := tick
		tick = tick.Add(time.Millisecond)
		return t
	})
	ctx := context.Background()
	threadID := ids.New()

	_, err := s.AppendMessage(ctx, threadID, model.MessageUser, json.RawMessage(`"hi"`), true, nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, threadID, model.MessageAssistant, json.RawMessage(`"hello"`), true, nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, threadID, model.MessageStatus, json.RawMessage(`"started"`), false, nil)
	require.NoError(t, err)

	all, err := s.ListMessages(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, model.MessageUser, all[0].Type)
	require.Equal(t, model.MessageAssistant, all[1].Type)
	require.Equal(t, model.MessageStatus, all[2].Type)

	llm, err := s.ListLLMMessages(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, llm, 2)
}

func TestListLLMMessagesIsPrefixStable(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	threadID := ids.New()

	_, err := s.AppendMessage(ctx, threadID, model.MessageUser, json.RawMessage(`"a"`), true, nil)
	require.NoError(t, err)
	first, err := s.ListLLMMessages(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = s.AppendMessage(ctx, threadID, model.MessageAssistant, json.RawMessage(`"b"`), true, nil)
	require.NoError(t, err)
	second, err := s.ListLLMMessages(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, first[0].MessageID, second[0].MessageID)
}

func TestDeleteByTypeRemovesOnlyThatType(t *testing.T) {
	s := memory.New(nil)
	ctx := context.Background()
	threadID := ids.New()

	_, err := s.AppendMessage(ctx, threadID, model.MessageSummary, json.RawMessage(`"old summary"`), true, nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, threadID, model.MessageUser, json.RawMessage(`"keep"`), true, nil)
	require.NoError(t, err)

	removed, err := s.DeleteByType(ctx, threadID, model.MessageSummary)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	remaining, err := s.ListMessages(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, model.MessageUser, remaining[0].Type)
}
