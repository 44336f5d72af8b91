// Package sandbox defines the Sandbox Provider (SPEC_FULL.md §4.J): an
// isolated execution environment hosting filesystem, shell and browser
// access for tool handlers. The core never implements sandboxing itself
// (spec.md §1 non-goals); it only depends on this interface, with file/shell
// tools receiving a Provider handle via composition rather than an
// inheritance hierarchy (spec.md Design Notes: "flatten to composition").
package sandbox

import (
	"context"
	"time"
)

// ExecResult is the outcome of a shell command run inside a sandbox.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Provider provisions and operates one sandbox per project. Implementations
// must make Exec/ReadFile/WriteFile safe to call concurrently for the same
// Ref, since multiple tool calls within one iteration may run in parallel
// (dispatcher.Parallel).
type Provider interface {
	// Create provisions a new sandbox and returns its opaque reference,
	// persisted as Project.SandboxRef.
	Create(ctx context.Context, projectID string) (ref string, err error)

	// Start ensures the sandbox referenced by ref is running. The droplet
	// provider powers on the droplet ref names and does not provision a new
	// one; its 30s timeout with one retry applies to Create, not to Start.
	Start(ctx context.Context, ref string) error

	// Stop tears down the sandbox. Idempotent.
	Stop(ctx context.Context, ref string) error

	// Exec runs command inside the sandbox's working directory. Callers
	// must respect ctx cancellation at their own suspension points; a
	// cancelled ctx may leave the sandbox-side process running but its
	// result is discarded by the caller (spec.md §5 cancellation).
	Exec(ctx context.Context, ref string, command string, timeout time.Duration) (ExecResult, error)

	// WriteFile writes data to path relative to the sandbox workspace root.
	WriteFile(ctx context.Context, ref string, path string, data []byte) error

	// ReadFile reads path relative to the sandbox workspace root.
	ReadFile(ctx context.Context, ref string, path string) ([]byte, error)

	// ListDir lists entries directly under path relative to the workspace
	// root.
	ListDir(ctx context.Context, ref string, path string) ([]DirEntry, error)
}

// DirEntry is one entry returned by Provider.ListDir.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}
