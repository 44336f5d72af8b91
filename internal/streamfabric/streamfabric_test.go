package streamfabric_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/streamfabric"
)

func TestLateSubscriberReceivesReplayThenLive(t *testing.T) {
	f := streamfabric.NewInProcess(streamfabric.Options{})
	ctx := context.Background()
	runID := ids.New()

	_, err := f.Publish(ctx, runID, streamfabric.EventAssistantChunk, "hello ")
	require.NoError(t, err)
	_, err = f.Publish(ctx, runID, streamfabric.EventAssistantChunk, "world")
	require.NoError(t, err)

	sub, err := f.Subscribe(ctx, runID)
	require.NoError(t, err)
	defer sub.Close()

	first := requireEvent(t, sub)
	require.Equal(t, int64(1), first.Seq)
	second := requireEvent(t, sub)
	require.Equal(t, int64(2), second.Seq)

	_, err = f.Publish(ctx, runID, streamfabric.EventDone, map[string]any{})
	require.NoError(t, err)

	third := requireEvent(t, sub)
	require.Equal(t, streamfabric.EventDone, third.Kind)

	_, ok := <-sub.Events()
	require.False(t, ok, "channel must close after a terminal event")
}

func TestSubscriberAfterTerminalGetsReplayThenImmediateClose(t *testing.T) {
	f := streamfabric.NewInProcess(streamfabric.Options{})
	ctx := context.Background()
	runID := ids.New()

	_, err := f.Publish(ctx, runID, streamfabric.EventAssistantChunk, "x")
	require.NoError(t, err)
	_, err = f.Publish(ctx, runID, streamfabric.EventDone, map[string]any{})
	require.NoError(t, err)

	sub, err := f.Subscribe(ctx, runID)
	require.NoError(t, err)

	e1 := requireEvent(t, sub)
	require.Equal(t, streamfabric.EventAssistantChunk, e1.Kind)
	e2 := requireEvent(t, sub)
	require.Equal(t, streamfabric.EventDone, e2.Kind)

	_, ok := <-sub.Events()
	require.False(t, ok)
}

func TestTotalOrderAcrossConcurrentPublishers(t *testing.T) {
	f := streamfabric.NewInProcess(streamfabric.Options{})
	ctx := context.Background()
	runID := ids.New()

	sub, err := f.Subscribe(ctx, runID)
	require.NoError(t, err)
	defer sub.Close()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.Publish(ctx, runID, streamfabric.EventAssistantChunk, i)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	_, err = f.Publish(ctx, runID, streamfabric.EventDone, nil)
	require.NoError(t, err)

	var lastSeq int64
	for {
		evt, ok := <-sub.Events()
		if !ok {
			break
		}
		require.Greater(t, evt.Seq, lastSeq)
		lastSeq = evt.Seq
	}
	require.Equal(t, int64(n+1), lastSeq)
}

func requireEvent(t *testing.T, sub streamfabric.Subscription) streamfabric.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok)
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return streamfabric.Event{}
	}
}
