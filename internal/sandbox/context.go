package sandbox

import "context"

type refKey struct{}

// WithRef attaches a run's sandbox ref to ctx so per-thread tool handlers
// (internal/tools) can recover it without a dedicated Registry per run.
func WithRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, refKey{}, ref)
}

// RefFromContext returns the sandbox ref attached by WithRef, if any.
func RefFromContext(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(refKey{}).(string)
	return ref, ok
}
