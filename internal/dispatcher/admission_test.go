package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/registry"
)

type fakeLimiter struct {
	calls []string
	err   error
}

func (l *fakeLimiter) Wait(ctx context.Context, key string) error {
	l.calls = append(l.calls, key)
	return l.err
}

func TestWithLimiterGatesToolExecution(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.Handler{
		"noop": func(ctx context.Context, args json.RawMessage) (any, error) { return "ok", nil },
	})
	limiter := &fakeLimiter{}
	d := dispatcher.New(reg, dispatcher.Policy{NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential}, nil).
		WithLimiter(limiter, "thread:t1")

	results := d.Execute(context.Background(), []model.ToolCall{
		{CallID: "1", ToolName: "noop", Arguments: []byte(`{}`), Origin: model.OriginJSON},
	})
	require.True(t, results[0].Success)
	require.Equal(t, []string{"thread:t1"}, limiter.calls)
}

func TestWithLimiterDeniedFailsTheCall(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.Handler{
		"noop": func(ctx context.Context, args json.RawMessage) (any, error) { return "ok", nil },
	})
	limiter := &fakeLimiter{err: errors.New("rate limit wait cancelled")}
	d := dispatcher.New(reg, dispatcher.Policy{NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential}, nil).
		WithLimiter(limiter, "thread:t1")

	results := d.Execute(context.Background(), []model.ToolCall{
		{CallID: "1", ToolName: "noop", Arguments: []byte(`{}`), Origin: model.OriginJSON},
	})
	require.False(t, results[0].Success)
	require.Contains(t, results[0].Error, "rate limit wait cancelled")
}

type recordedExecution struct {
	tool     string
	status   string
	duration time.Duration
}

type fakeMetrics struct {
	mu         sync.Mutex
	executions []recordedExecution
}

func (m *fakeMetrics) RecordToolExecution(tool, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, recordedExecution{tool, status, duration})
}

func TestWithMetricsRecordsSuccessAndFailure(t *testing.T) {
	reg := buildRegistry(t, map[string]registry.Handler{
		"ok":  func(ctx context.Context, args json.RawMessage) (any, error) { return "done", nil },
		"bad": func(ctx context.Context, args json.RawMessage) (any, error) { return nil, errFileNotFound },
	})
	metrics := &fakeMetrics{}
	d := dispatcher.New(reg, dispatcher.Policy{NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential}, nil).
		WithMetrics(metrics)

	d.Execute(context.Background(), []model.ToolCall{
		{CallID: "1", ToolName: "ok", Arguments: []byte(`{}`), Origin: model.OriginJSON},
		{CallID: "2", ToolName: "bad", Arguments: []byte(`{}`), Origin: model.OriginJSON},
	})

	require.Len(t, metrics.executions, 2)
	require.Equal(t, "ok", metrics.executions[0].tool)
	require.Equal(t, "success", metrics.executions[0].status)
	require.Equal(t, "bad", metrics.executions[1].tool)
	require.Equal(t, "error", metrics.executions[1].status)
}
