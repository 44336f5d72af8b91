package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/sandbox"
)

// defaultExecTimeout bounds a single shell_exec call absent an explicit
// timeout_seconds argument.
const defaultExecTimeout = 60 * time.Second

// RegisterSandboxTools registers read_file, write_file, list_dir and
// shell_exec against a single process-wide Registry (spec §5: "the Tool
// Registry is read-mostly; registration happens at startup"). Each handler
// resolves its sandbox ref per call from the context via sandbox.RefFromContext,
// which runmgr.Manager attaches before driving a run's conversation loop, so
// one Registry serves every project's sandbox rather than needing one
// Registry instance per run.
func RegisterSandboxTools(r *registry.Registry, provider sandbox.Provider) error {
	specs := []*registry.Spec{
		readFileSpec(provider),
		writeFileSpec(provider),
		listDirSpec(provider),
		shellExecSpec(provider),
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func sandboxRef(ctx context.Context) (string, error) {
	ref, ok := sandbox.RefFromContext(ctx)
	if !ok || ref == "" {
		return "", errs.New(errs.Internal, "no sandbox ref bound to this run's context")
	}
	return ref, nil
}

func readFileSpec(provider sandbox.Provider) *registry.Spec {
	return mustBuild(
		"read_file",
		"Read the contents of a file in the sandbox workspace.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
		"read_file",
		[]registry.XMLMapping{
			{Param: "path", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			ref, err := sandboxRef(ctx)
			if err != nil {
				return nil, err
			}
			data, err := provider.ReadFile(ctx, ref, args.Path)
			if err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "read_file failed", err)
			}
			return map[string]any{"path": args.Path, "content": string(data)}, nil
		},
	)
}

func writeFileSpec(provider sandbox.Provider) *registry.Spec {
	return mustBuild(
		"write_file",
		"Write (creating or overwriting) a file in the sandbox workspace.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []any{"path", "content"},
		},
		"write_file",
		[]registry.XMLMapping{
			{Param: "path", Node: registry.NodeAttribute, Value: registry.ValueString, Required: true},
			{Param: "content", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			ref, err := sandboxRef(ctx)
			if err != nil {
				return nil, err
			}
			if err := provider.WriteFile(ctx, ref, args.Path, []byte(args.Content)); err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "write_file failed", err)
			}
			return map[string]any{"path": args.Path, "bytes_written": len(args.Content)}, nil
		},
	)
}

func listDirSpec(provider sandbox.Provider) *registry.Spec {
	return mustBuild(
		"list_dir",
		"List the entries directly under a directory in the sandbox workspace.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
		"list_dir",
		[]registry.XMLMapping{
			{Param: "path", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			ref, err := sandboxRef(ctx)
			if err != nil {
				return nil, err
			}
			entries, err := provider.ListDir(ctx, ref, args.Path)
			if err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "list_dir failed", err)
			}
			out := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				out = append(out, map[string]any{"name": e.Name, "is_dir": e.IsDir, "size": e.Size})
			}
			return map[string]any{"path": args.Path, "entries": out}, nil
		},
	)
}

func shellExecSpec(provider sandbox.Provider) *registry.Spec {
	return mustBuild(
		"shell_exec",
		"Run a shell command inside the sandbox workspace and return its output.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command":         map[string]any{"type": "string"},
				"timeout_seconds": map[string]any{"type": "integer", "description": "Defaults to 60."},
			},
			"required": []any{"command"},
		},
		"shell_exec",
		[]registry.XMLMapping{
			{Param: "command", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
			{Param: "timeout_seconds", Node: registry.NodeAttribute, Value: registry.ValueInt},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Command        string `json:"command"`
				TimeoutSeconds int    `json:"timeout_seconds"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			ref, err := sandboxRef(ctx)
			if err != nil {
				return nil, err
			}
			timeout := defaultExecTimeout
			if args.TimeoutSeconds > 0 {
				timeout = time.Duration(args.TimeoutSeconds) * time.Second
			}
			res, err := provider.Exec(ctx, ref, args.Command, timeout)
			if err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "shell_exec failed", err)
			}
			return map[string]any{
				"stdout":    res.Stdout,
				"stderr":    res.Stderr,
				"exit_code": res.ExitCode,
			}, nil
		},
	)
}
