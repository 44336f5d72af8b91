package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ratelimit"
)

func TestAllowRespectsBurstThenRefills(t *testing.T) {
	l := ratelimit.New(1000, 2) // fast refill so the test doesn't sleep long
	key := ratelimit.ThreadKey("t1")

	require.True(t, l.Allow(key))
	require.True(t, l.Allow(key))
	require.False(t, l.Allow(key)) // burst exhausted
}

func TestDifferentKeysHaveIndependentBuckets(t *testing.T) {
	l := ratelimit.New(1000, 1)

	require.True(t, l.Allow(ratelimit.ThreadKey("a")))
	require.True(t, l.Allow(ratelimit.SandboxKey("a"))) // distinct key, fresh bucket
}

func TestWaitReturnsCancelledOnContextDone(t *testing.T) {
	l := ratelimit.New(1, 1)
	key := ratelimit.SandboxKey("s1")
	require.True(t, l.Allow(key)) // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := l.Wait(ctx, key)
	require.Error(t, err)
	require.Equal(t, errs.Cancelled, errs.KindOf(err))
}
