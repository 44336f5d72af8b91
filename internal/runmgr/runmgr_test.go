package runmgr_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/engine/local"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/runmgr"
	sandboxlocal "github.com/loomrun/agentcore/internal/sandbox/local"
	"github.com/loomrun/agentcore/internal/store/memory"
	"github.com/loomrun/agentcore/internal/streamfabric"
)

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

type scriptedClient struct{ turns [][]llm.Delta; i int }

func (c *scriptedClient) Chat(context.Context, llm.ChatRequest) (llm.Stream, error) {
	if c.i >= len(c.turns) {
		return &scriptedStream{}, nil
	}
	s := &scriptedStream{deltas: c.turns[c.i]}
	c.i++
	return s, nil
}

// blockingStream never yields a delta until ctx is canceled.
type blockingStream struct{}

func (blockingStream) Next(ctx context.Context) (llm.Delta, bool, error) {
	<-ctx.Done()
	return llm.Delta{}, false, ctx.Err()
}
func (blockingStream) Close() error { return nil }

type blockingClient struct{}

func (blockingClient) Chat(context.Context, llm.ChatRequest) (llm.Stream, error) {
	return blockingStream{}, nil
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

type sharedDeps struct {
	projectStore *memory.ProjectStore
	msgStore     *memory.Store
	runStore     *memory.RunStore
	sandboxes    *sandboxlocal.Provider
	fabric       *streamfabric.InProcess
}

func newSharedDeps(t *testing.T) sharedDeps {
	t.Helper()
	return sharedDeps{
		projectStore: memory.NewProjectStore(nil),
		msgStore:     memory.New(nil),
		runStore:     memory.NewRunStore(),
		sandboxes:    sandboxlocal.New(t.TempDir()),
		fabric:       streamfabric.NewInProcess(streamfabric.Options{}),
	}
}

func (d sharedDeps) manager(t *testing.T, client llm.Client) *runmgr.Manager {
	t.Helper()
	reg := buildRegistry(t)
	eng := local.New(4)
	return runmgr.New(d.projectStore, d.msgStore, d.runStore, d.sandboxes, client, reg, d.fabric, eng, runmgr.Options{
		AdmissionTimeout: 2 * time.Second,
		HeartbeatTTL:     300 * time.Millisecond,
	})
}

func newManager(t *testing.T, client llm.Client) *runmgr.Manager {
	t.Helper()
	return newSharedDeps(t).manager(t, client)
}

func waitTerminal(t *testing.T, mgr *runmgr.Manager, runID ids.ID) *model.AgentRun {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		run, err := mgr.Status(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal state in time")
	return nil
}

func TestStartRunCompletesViaTerminalTool(t *testing.T) {
	client := &scriptedClient{turns: [][]llm.Delta{
		{
			{Kind: llm.DeltaText, Text: "done"},
			{Kind: llm.DeltaToolCall, ToolCall: llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "complete", ArgumentsFrag: `{}`, Done: true}},
		},
	}}
	mgr := newManager(t, client)

	run, err := mgr.StartRun(context.Background(), runmgr.Request{
		AccountID:     ids.New(),
		Model:         "gpt-4",
		InitialPrompt: "hello",
		DispatchPolicy: dispatcher.Policy{
			NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential,
		},
	})
	require.NoError(t, err)
	require.Equal(t, model.RunRunning, run.Status)

	final := waitTerminal(t, mgr, run.RunID)
	require.Equal(t, model.RunCompleted, final.Status)

	threadID, err := mgr.ThreadFor(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Equal(t, run.ThreadID, threadID)
}

func TestStopIsIdempotentAndStopsRunningWorker(t *testing.T) {
	mgr := newManager(t, blockingClient{})

	run, err := mgr.StartRun(context.Background(), runmgr.Request{
		AccountID: ids.New(),
		Model:     "gpt-4",
		DispatchPolicy: dispatcher.Policy{
			NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential,
		},
	})
	require.NoError(t, err)

	stopped, err := mgr.Stop(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Equal(t, model.RunStopped, stopped.Status)

	// Second stop is a no-op, same terminal status.
	again, err := mgr.Stop(context.Background(), run.RunID)
	require.NoError(t, err)
	require.Equal(t, model.RunStopped, again.Status)

	final := waitTerminal(t, mgr, run.RunID)
	require.Equal(t, model.RunStopped, final.Status)
}

func TestRecoverCrashedRunsFailsStaleRunningRecords(t *testing.T) {
	deps := newSharedDeps(t)
	mgr := deps.manager(t, blockingClient{})
	ctx := context.Background()

	run, err := mgr.StartRun(ctx, runmgr.Request{
		AccountID: ids.New(),
		Model:     "gpt-4",
		DispatchPolicy: dispatcher.Policy{
			NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential,
		},
	})
	require.NoError(t, err)
	_, _ = mgr.Stop(ctx, run.RunID)
	waitTerminal(t, mgr, run.RunID) // ensure mgr's worker goroutine has fully finished writing status

	// Simulate a crash mid-run instead: force the persisted record back to
	// RUNNING without the original Manager's heartbeat ever having been set
	// on a fresh Manager sharing the same durable runStore.
	require.NoError(t, deps.runStore.UpdateStatus(ctx, run.RunID, model.RunRunning, "", nil))

	fresh := deps.manager(t, blockingClient{})
	require.NoError(t, fresh.RecoverCrashedRuns(ctx))

	recovered, err := deps.runStore.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Equal(t, model.RunFailed, recovered.Status)
}
