// Package redisfabric implements the Streaming Fabric (spec §4.F) on Redis
// (redis/go-redis/v9), for multi-instance deployments where a subscriber may
// connect to a different process than the publisher. The response list is a
// Redis list (RPUSH/LRANGE); live delivery uses Redis Pub/Sub; both keys
// carry the TTLs from spec §6 (KV_URL substrate).
package redisfabric

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/streamfabric"
)

// Fabric is a Redis-backed streamfabric.Fabric.
type Fabric struct {
	client          *redis.Client
	responseListTTL time.Duration
	statusTTL       time.Duration
}

// New wraps an existing *redis.Client. Callers own the client's lifecycle.
func New(client *redis.Client, opts streamfabric.Options) *Fabric {
	o := opts
	if o.ResponseListTTL <= 0 {
		o.ResponseListTTL = 24 * time.Hour
	}
	if o.StatusTTL <= 0 {
		o.StatusTTL = time.Hour
	}
	return &Fabric{client: client, responseListTTL: o.ResponseListTTL, statusTTL: o.StatusTTL}
}

func responsesKey(runID ids.ID) string { return fmt.Sprintf("run:%s:responses", runID) }
func statusKey(runID ids.ID) string    { return fmt.Sprintf("run:%s:status", runID) }
func channelKey(runID ids.ID) string   { return fmt.Sprintf("run:%s:channel", runID) }
func seqKey(runID ids.ID) string       { return fmt.Sprintf("run:%s:seq", runID) }

// Publish appends to the response list, refreshes its TTL, and publishes to
// the run's live channel. Every status event, terminal or not, also writes
// the run's status key with statusTTL.
func (f *Fabric) Publish(ctx context.Context, runID ids.ID, kind streamfabric.EventKind, payload any) (streamfabric.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return streamfabric.Event{}, err
	}

	seq, err := f.client.Incr(ctx, seqKey(runID)).Result()
	if err != nil {
		return streamfabric.Event{}, errs.Wrap(errs.Internal, "increment run sequence", err)
	}

	evt := streamfabric.Event{Seq: seq, RunID: runID, Kind: kind, Payload: raw, Timestamp: time.Now()}
	if kind == streamfabric.EventStatus {
		evt.TerminalStatus = isTerminalStatusPayload(raw)
	}

	encoded, err := json.Marshal(evt)
	if err != nil {
		return streamfabric.Event{}, err
	}

	pipe := f.client.TxPipeline()
	pipe.RPush(ctx, responsesKey(runID), encoded)
	pipe.Expire(ctx, responsesKey(runID), f.responseListTTL)
	pipe.Expire(ctx, seqKey(runID), f.responseListTTL)
	if kind == streamfabric.EventStatus {
		pipe.Set(ctx, statusKey(runID), string(raw), f.statusTTL)
	}
	pipe.Publish(ctx, channelKey(runID), encoded)
	if _, err := pipe.Exec(ctx); err != nil {
		return streamfabric.Event{}, errs.Wrap(errs.Internal, "publish event", err)
	}
	return evt, nil
}

func isTerminalStatusPayload(raw json.RawMessage) bool {
	var p struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	switch p.Status {
	case "COMPLETED", "STOPPED", "FAILED":
		return true
	default:
		return false
	}
}

// Subscribe replays the response list, then forwards events published on
// the run's Redis channel after the point the replay snapshot was taken
// (spec §4.F: "no gaps between the replay tail and the first live event").
func (f *Fabric) Subscribe(ctx context.Context, runID ids.ID) (streamfabric.Subscription, error) {
	pubsub := f.client.Subscribe(ctx, channelKey(runID))
	// Block until the subscribe is acknowledged so no live event published
	// after this point can be missed by the replay-then-live handoff below.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errs.Wrap(errs.Internal, "subscribe to run channel", err)
	}

	raw, err := f.client.LRange(ctx, responsesKey(runID), 0, -1).Result()
	if err != nil {
		pubsub.Close()
		return nil, errs.Wrap(errs.Internal, "read response list", err)
	}

	replay := make([]streamfabric.Event, 0, len(raw))
	var lastSeq int64
	var closedAlready bool
	for _, r := range raw {
		var evt streamfabric.Event
		if err := json.Unmarshal([]byte(r), &evt); err != nil {
			continue
		}
		replay = append(replay, evt)
		lastSeq = evt.Seq
		if evt.Kind.Terminal() || (evt.Kind == streamfabric.EventStatus && evt.TerminalStatus) {
			closedAlready = true
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pubsub: pubsub,
		out:    make(chan streamfabric.Event, 16),
		cancel: cancel,
	}
	go sub.run(ctx, replay, lastSeq, closedAlready)
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	out    chan streamfabric.Event
	cancel context.CancelFunc
}

func (s *subscription) run(ctx context.Context, replay []streamfabric.Event, lastSeq int64, closedAlready bool) {
	defer close(s.out)
	defer s.pubsub.Close()

	for _, evt := range replay {
		select {
		case s.out <- evt:
		case <-ctx.Done():
			return
		}
	}
	if closedAlready {
		return
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt streamfabric.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			if evt.Seq <= lastSeq {
				continue // already delivered via replay, avoid duplication at the handoff boundary
			}
			select {
			case s.out <- evt:
			case <-ctx.Done():
				return
			}
			if evt.Kind.Terminal() || (evt.Kind == streamfabric.EventStatus && evt.TerminalStatus) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscription) Events() <-chan streamfabric.Event { return s.out }

func (s *subscription) Close() { s.cancel() }

var _ streamfabric.Fabric = (*Fabric)(nil)
