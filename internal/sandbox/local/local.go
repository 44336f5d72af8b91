// Package local implements sandbox.Provider as a plain subprocess + temp
// directory jail, for tests and local development (SPEC_FULL.md §4.J).
package local

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/sandbox"
)

// Provider is a sandbox.Provider backed by one host temp directory per
// sandbox reference. It offers no real isolation (no namespaces, no
// resource limits) and exists only for dev/test use, mirroring the
// teacher's local/dev runtime mode for its own provider interfaces.
type Provider struct {
	baseDir string

	mu    sync.Mutex
	roots map[string]string // ref -> workspace root
}

// New builds a Provider rooted under baseDir (an existing writable
// directory; os.TempDir() is a reasonable default for callers).
func New(baseDir string) *Provider {
	return &Provider{baseDir: baseDir, roots: make(map[string]string)}
}

var _ sandbox.Provider = (*Provider)(nil)

func (p *Provider) Create(_ context.Context, projectID string) (string, error) {
	ref := "local-" + projectID + "-" + ids.New().String()
	root := filepath.Join(p.baseDir, ref)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", errs.Wrap(errs.UpstreamFailure, "create sandbox workspace", err)
	}
	p.mu.Lock()
	p.roots[ref] = root
	p.mu.Unlock()
	return ref, nil
}

func (p *Provider) Start(_ context.Context, ref string) error {
	root, err := p.rootFor(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errs.Wrap(errs.UpstreamFailure, "start sandbox workspace", err)
	}
	return nil
}

func (p *Provider) Stop(_ context.Context, ref string) error {
	root, err := p.rootFor(ref)
	if err != nil {
		return nil // stop is idempotent; unknown ref is already "stopped"
	}
	return os.RemoveAll(root)
}

func (p *Provider) Exec(ctx context.Context, ref string, command string, timeout time.Duration) (sandbox.ExecResult, error) {
	root, err := p.rootFor(ref)
	if err != nil {
		return sandbox.ExecResult{}, err
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", command)
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := sandbox.ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if runErr != nil {
		if execCtx.Err() != nil {
			return res, errs.Wrap(errs.UpstreamTimeout, "sandbox exec timed out", execCtx.Err())
		}
		return res, errs.Wrap(errs.UpstreamFailure, "sandbox exec failed", runErr)
	}
	return res, nil
}

func (p *Provider) WriteFile(_ context.Context, ref, path string, data []byte) error {
	full, err := p.resolve(ref, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errs.Wrap(errs.UpstreamFailure, "create parent dir", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return errs.Wrap(errs.UpstreamFailure, "write file", err)
	}
	return nil
}

func (p *Provider) ReadFile(_ context.Context, ref, path string) ([]byte, error) {
	full, err := p.resolve(ref, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.NotFound, "file not found", err)
		}
		return nil, errs.Wrap(errs.UpstreamFailure, "read file", err)
	}
	return data, nil
}

func (p *Provider) ListDir(_ context.Context, ref, path string) ([]sandbox.DirEntry, error) {
	full, err := p.resolve(ref, path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, "list dir", err)
	}
	out := make([]sandbox.DirEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, sandbox.DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	return out, nil
}

func (p *Provider) rootFor(ref string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	root, ok := p.roots[ref]
	if !ok {
		return "", errs.New(errs.NotFound, "unknown sandbox ref: "+ref)
	}
	return root, nil
}

// resolve joins path under the sandbox root. path is cleaned as if rooted at
// "/", so ".." elements cannot climb above the root; a cleaned path that
// still contains ".." (inside a name such as "a..b") is rejected.
func (p *Provider) resolve(ref, path string) (string, error) {
	root, err := p.rootFor(ref)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean("/" + path)
	if strings.Contains(clean, "..") {
		return "", errs.New(errs.InvalidRequest, "path escapes sandbox root")
	}
	return filepath.Join(root, clean), nil
}
