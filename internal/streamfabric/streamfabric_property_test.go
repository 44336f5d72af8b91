package streamfabric_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/streamfabric"
)

// TestSubscriberSeqStrictlyIncreasingProperty checks, over many randomly
// sized publish bursts, that "events observed by any subscriber are
// strictly increasing in seq" — the invariant a fixed-size table-driven
// test like TestTotalOrderAcrossConcurrentPublishers only samples once.
func TestSubscriberSeqStrictlyIncreasingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("seq is strictly increasing for any subscriber", prop.ForAll(
		func(n int) bool {
			f := streamfabric.NewInProcess(streamfabric.Options{})
			ctx := context.Background()
			runID := ids.New()

			sub, err := f.Subscribe(ctx, runID)
			if err != nil {
				return false
			}
			defer sub.Close()

			for i := 0; i < n; i++ {
				if _, err := f.Publish(ctx, runID, streamfabric.EventAssistantChunk, i); err != nil {
					return false
				}
			}
			if _, err := f.Publish(ctx, runID, streamfabric.EventDone, nil); err != nil {
				return false
			}

			var lastSeq int64
			for {
				evt, ok := <-sub.Events()
				if !ok {
					break
				}
				if evt.Seq <= lastSeq {
					return false
				}
				lastSeq = evt.Seq
			}
			return lastSeq == int64(n+1)
		},
		gen.IntRange(0, 200),
	))

	properties.TestingRun(t)
}

// TestLateSubscriberAlsoSeesStrictlyIncreasingSeqProperty covers the same
// invariant for a subscriber that joins mid-stream after some events have
// already been published (the replay-then-live handoff path).
func TestLateSubscriberAlsoSeesStrictlyIncreasingSeqProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("seq is strictly increasing across replay and live", prop.ForAll(
		func(before, after int) bool {
			f := streamfabric.NewInProcess(streamfabric.Options{})
			ctx := context.Background()
			runID := ids.New()

			for i := 0; i < before; i++ {
				if _, err := f.Publish(ctx, runID, streamfabric.EventAssistantChunk, i); err != nil {
					return false
				}
			}

			sub, err := f.Subscribe(ctx, runID)
			if err != nil {
				return false
			}
			defer sub.Close()

			for i := 0; i < after; i++ {
				if _, err := f.Publish(ctx, runID, streamfabric.EventAssistantChunk, i); err != nil {
					return false
				}
			}
			if _, err := f.Publish(ctx, runID, streamfabric.EventDone, nil); err != nil {
				return false
			}

			var lastSeq int64
			for {
				evt, ok := <-sub.Events()
				if !ok {
					break
				}
				if evt.Seq <= lastSeq {
					return false
				}
				lastSeq = evt.Seq
			}
			return lastSeq == int64(before+after+1)
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
