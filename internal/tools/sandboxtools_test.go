package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/sandbox"
	sandboxlocal "github.com/loomrun/agentcore/internal/sandbox/local"
	"github.com/loomrun/agentcore/internal/tools"
)

func newLocalSandbox(t *testing.T) (*sandboxlocal.Provider, context.Context) {
	t.Helper()
	p := sandboxlocal.New(t.TempDir())
	ref, err := p.Create(context.Background(), "proj-1")
	require.NoError(t, err)
	return p, sandbox.WithRef(context.Background(), ref)
}

func TestWriteThenReadFileRoundTrips(t *testing.T) {
	p, ctx := newLocalSandbox(t)
	r := registry.New()
	require.NoError(t, tools.RegisterSandboxTools(r, p))

	writeSpec, ok := r.LookupByName("write_file")
	require.True(t, ok)
	_, err := writeSpec.Handler(ctx, json.RawMessage(`{"path":"notes/a.txt","content":"hello"}`))
	require.NoError(t, err)

	readSpec, ok := r.LookupByName("read_file")
	require.True(t, ok)
	out, err := readSpec.Handler(ctx, json.RawMessage(`{"path":"notes/a.txt"}`))
	require.NoError(t, err)
	require.Equal(t, "hello", out.(map[string]any)["content"])
}

func TestReadFileMissingReturnsToolFailure(t *testing.T) {
	p, ctx := newLocalSandbox(t)
	r := registry.New()
	require.NoError(t, tools.RegisterSandboxTools(r, p))

	readSpec, _ := r.LookupByName("read_file")
	_, err := readSpec.Handler(ctx, json.RawMessage(`{"path":"missing.txt"}`))
	require.Error(t, err)
	require.Equal(t, errs.ToolFailure, errs.KindOf(err))
}

func TestReadFileWithoutBoundSandboxRefFails(t *testing.T) {
	p := sandboxlocal.New(t.TempDir())
	r := registry.New()
	require.NoError(t, tools.RegisterSandboxTools(r, p))

	readSpec, _ := r.LookupByName("read_file")
	_, err := readSpec.Handler(context.Background(), json.RawMessage(`{"path":"a.txt"}`))
	require.Error(t, err)
	require.Equal(t, errs.Internal, errs.KindOf(err))
}

func TestListDirReflectsWrittenFiles(t *testing.T) {
	p, ctx := newLocalSandbox(t)
	r := registry.New()
	require.NoError(t, tools.RegisterSandboxTools(r, p))

	writeSpec, _ := r.LookupByName("write_file")
	_, err := writeSpec.Handler(ctx, json.RawMessage(`{"path":"x.txt","content":"1"}`))
	require.NoError(t, err)

	listSpec, _ := r.LookupByName("list_dir")
	out, err := listSpec.Handler(ctx, json.RawMessage(`{"path":"."}`))
	require.NoError(t, err)
	entries := out.(map[string]any)["entries"].([]map[string]any)
	require.Len(t, entries, 1)
	require.Equal(t, "x.txt", entries[0]["name"])
}

func TestShellExecReturnsExitCodeAndOutput(t *testing.T) {
	p, ctx := newLocalSandbox(t)
	r := registry.New()
	require.NoError(t, tools.RegisterSandboxTools(r, p))

	execSpec, _ := r.LookupByName("shell_exec")
	out, err := execSpec.Handler(ctx, json.RawMessage(`{"command":"echo hi"}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	require.Equal(t, 0, m["exit_code"])
	require.Contains(t, m["stdout"], "hi")
}
