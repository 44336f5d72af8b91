// Package ratelimit bounds concurrent tool invocations per thread and per
// sandbox with golang.org/x/time/rate token buckets, layered on top of the
// worker-pool admission control of spec.md §5 (SPEC_FULL.md §4.O). Grounded
// on the teacher's own rate limiter
// (features/model/middleware/ratelimit.go), scoped down from that file's
// adaptive AIMD tokens-per-minute budget (which governs LLM call cost, a
// concern internal/llm already owns) to a plain fixed-rate limiter keyed by
// an arbitrary caller-chosen string.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/loomrun/agentcore/internal/errs"
)

// Limiters is a registry of independent token-bucket limiters, one per key.
// Keys are typically "thread:<threadId>" or "sandbox:<ref>"; a limiter is
// created lazily on first use and reused for the life of the process.
type Limiters struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Limiters registry where each key's bucket refills at rps
// tokens/second up to burst tokens.
func New(rps float64, burst int) *Limiters {
	return &Limiters{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until key's bucket has a token to spend, or ctx is done. A done
// ctx yields a Cancelled error; if ctx's deadline would pass before a token
// is available, Wait returns an AdmissionTimeout error without waiting.
func (l *Limiters) Wait(ctx context.Context, key string) error {
	if err := l.limiterFor(key).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.Cancelled, "rate limit wait cancelled", err)
		}
		return errs.Wrap(errs.AdmissionTimeout, "rate limit exceeded", err)
	}
	return nil
}

// Allow reports whether key's bucket currently has a spare token, consuming
// one if so, without blocking.
func (l *Limiters) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}

// SetRate updates the refill rate and burst applied to every existing
// limiter (and any created afterward). Lets internal/config.Watcher
// hot-swap RATE_LIMIT_RPS/RATE_LIMIT_BURST without a process restart.
func (l *Limiters) SetRate(rps float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rps = rate.Limit(rps)
	l.burst = burst
	for _, lim := range l.limiters {
		lim.SetLimit(l.rps)
		lim.SetBurst(l.burst)
	}
}

func (l *Limiters) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// ThreadKey builds the registry key for a thread-scoped limiter.
func ThreadKey(threadID string) string { return "thread:" + threadID }

// SandboxKey builds the registry key for a sandbox-scoped limiter.
func SandboxKey(ref string) string { return "sandbox:" + ref }
