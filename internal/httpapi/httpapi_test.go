package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/engine/local"
	"github.com/loomrun/agentcore/internal/httpapi"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/runmgr"
	sandboxlocal "github.com/loomrun/agentcore/internal/sandbox/local"
	"github.com/loomrun/agentcore/internal/store/memory"
	"github.com/loomrun/agentcore/internal/streamfabric"
)

type scriptedStream struct{}

func (scriptedStream) Next(context.Context) (llm.Delta, bool, error) {
	return llm.Delta{}, false, nil
}
func (scriptedStream) Close() error { return nil }

type scriptedClient struct{}

func (scriptedClient) Chat(context.Context, llm.ChatRequest) (llm.Stream, error) {
	return scriptedStream{}, nil
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

func newTestServer(t *testing.T) *httpapi.Server {
	t.Helper()
	reg := buildRegistry(t)
	eng := local.New(4)
	mgr := runmgr.New(
		memory.NewProjectStore(nil),
		memory.New(nil),
		memory.NewRunStore(),
		sandboxlocal.New(t.TempDir()),
		scriptedClient{},
		reg,
		streamfabric.NewInProcess(streamfabric.Options{}),
		eng,
		runmgr.Options{AdmissionTimeout: 2 * time.Second, HeartbeatTTL: time.Hour},
	)
	return httpapi.NewServer(mgr, streamfabric.NewInProcess(streamfabric.Options{}),
		httpapi.WithDispatchPolicy(dispatcher.Policy{NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential}))
}

func multipartRunRequest(t *testing.T, body agentRunRequestJSON) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, w.WriteField("request", string(raw)))
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

// agentRunRequestJSON mirrors the unexported httpapi DTO for test bodies.
type agentRunRequestJSON struct {
	ModelName            string `json:"model_name"`
	EnableThinking       bool   `json:"enable_thinking"`
	ReasoningEffort      string `json:"reasoning_effort"`
	Stream               bool   `json:"stream"`
	EnableContextManager bool   `json:"enable_context_manager"`
	InitialPrompt        string `json:"initial_prompt"`
	UserID               string `json:"user_id,omitempty"`
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agent/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body.Status)
}

func TestStartRunMissingUserIDIsUnauthorized(t *testing.T) {
	s := newTestServer(t)
	buf, ct := multipartRunRequest(t, agentRunRequestJSON{ModelName: "gpt-4"})
	req := httptest.NewRequest(http.MethodPost, "/agent/runs", buf)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartRunMissingModelNameIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	buf, ct := multipartRunRequest(t, agentRunRequestJSON{UserID: "acct-1"})
	req := httptest.NewRequest(http.MethodPost, "/agent/runs", buf)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRunThenGetRunRoundTrips(t *testing.T) {
	s := newTestServer(t)
	buf, ct := multipartRunRequest(t, agentRunRequestJSON{
		ModelName:     "gpt-4",
		UserID:        "acct-1",
		InitialPrompt: "hello",
	})
	req := httptest.NewRequest(http.MethodPost, "/agent/runs", buf)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var started struct {
		RunID    string `json:"run_id"`
		ThreadID string `json:"thread_id"`
		Status   string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)
	require.Equal(t, "RUNNING", started.Status)

	getReq := httptest.NewRequest(http.MethodGet, "/agent/runs/"+started.RunID, nil)
	getRec := httptest.NewRecorder()
	s.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var got struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
	require.Equal(t, started.RunID, got.RunID)
}

func TestGetUnknownRunIsNotFound(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/agent/runs/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRunDeliversReplayThenCloses(t *testing.T) {
	reg := buildRegistry(t)
	eng := local.New(4)
	fabric := streamfabric.NewInProcess(streamfabric.Options{})
	mgr := runmgr.New(
		memory.NewProjectStore(nil),
		memory.New(nil),
		memory.NewRunStore(),
		sandboxlocal.New(t.TempDir()),
		scriptedClient{},
		reg,
		fabric,
		eng,
		runmgr.Options{AdmissionTimeout: 2 * time.Second, HeartbeatTTL: time.Hour},
	)
	s := httpapi.NewServer(mgr, fabric,
		httpapi.WithDispatchPolicy(dispatcher.Policy{NativeToolCalling: true, ExecuteTools: true, Strategy: dispatcher.Sequential}))

	buf, ct := multipartRunRequest(t, agentRunRequestJSON{ModelName: "gpt-4", UserID: "acct-1"})
	startReq := httptest.NewRequest(http.MethodPost, "/agent/runs", buf)
	startReq.Header.Set("Content-Type", ct)
	startRec := httptest.NewRecorder()
	s.ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusOK, startRec.Code)

	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(startRec.Body.Bytes(), &started))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		getReq := httptest.NewRequest(http.MethodGet, "/agent/runs/"+started.RunID, nil)
		getRec := httptest.NewRecorder()
		s.ServeHTTP(getRec, getReq)
		var got struct {
			Status string `json:"status"`
		}
		require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &got))
		if got.Status == "COMPLETED" || got.Status == "FAILED" || got.Status == "STOPPED" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	streamCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	streamReq := httptest.NewRequest(http.MethodGet, "/agent/runs/"+started.RunID+"/stream", nil).WithContext(streamCtx)
	streamRec := httptest.NewRecorder()
	s.ServeHTTP(streamRec, streamReq)

	require.Equal(t, http.StatusOK, streamRec.Code)
	require.Contains(t, streamRec.Body.String(), "event: status")
}

func TestStopRunIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	buf, ct := multipartRunRequest(t, agentRunRequestJSON{ModelName: "gpt-4", UserID: "acct-1"})
	req := httptest.NewRequest(http.MethodPost, "/agent/runs", buf)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	for i := 0; i < 2; i++ {
		stopReq := httptest.NewRequest(http.MethodPost, "/agent/runs/"+started.RunID+"/stop", nil)
		stopRec := httptest.NewRecorder()
		s.ServeHTTP(stopRec, stopReq)
		require.Equal(t, http.StatusOK, stopRec.Code)
	}
}

func TestInvalidReasoningEffortIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	buf, ct := multipartRunRequest(t, agentRunRequestJSON{
		ModelName:       "gpt-4",
		UserID:          "acct-1",
		ReasoningEffort: "extreme",
	})
	req := httptest.NewRequest(http.MethodPost, "/agent/runs", buf)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
