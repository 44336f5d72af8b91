// Package streamfabric implements the Streaming Fabric (spec §4.F): a
// per-run pub/sub channel with an ordered, append-only replay list. The
// in-process Fabric here is grounded on the teacher's synchronous fan-out
// hooks.Bus, adapted for per-subscriber queues (so a slow subscriber never
// blocks the publisher or other subscribers) and replay-then-live delivery.
package streamfabric

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/loomrun/agentcore/internal/ids"
)

// EventKind enumerates the events a run publishes (spec §4.F).
type EventKind string

const (
	EventAssistantChunk   EventKind = "assistant_chunk"
	EventAssistantMessage EventKind = "assistant_message"
	EventToolStart        EventKind = "tool_start"
	EventToolResult       EventKind = "tool_result"
	EventStatus           EventKind = "status"
	EventError            EventKind = "error"
	EventDone             EventKind = "done"
)

// Terminal reports whether k closes a subscription (spec §4.F: "done (or
// any terminal status) closes the subscription cleanly").
func (k EventKind) Terminal() bool {
	return k == EventDone
}

// Event is one entry in a run's ordered event stream.
type Event struct {
	Seq       int64           `json:"seq"`
	RunID     ids.ID          `json:"run_id"`
	Kind      EventKind       `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	// TerminalStatus is set alongside EventStatus when the status itself is
	// terminal (COMPLETED/STOPPED/FAILED), so it closes the subscription the
	// same way EventDone does.
	TerminalStatus bool `json:"terminal_status,omitempty"`
}

func (e Event) closesSubscription() bool {
	return e.Kind.Terminal() || (e.Kind == EventStatus && e.TerminalStatus)
}

// Subscription delivers a run's events: replay first, then live, in total
// order, with no gap between the two. Events channel closes once a
// terminal event has been delivered or Close is called.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// Fabric is the Streaming Fabric API consumed by the Thread Manager
// (publisher side) and the HTTP transport (subscriber side).
type Fabric interface {
	Publish(ctx context.Context, runID ids.ID, kind EventKind, payload any) (Event, error)
	Subscribe(ctx context.Context, runID ids.ID) (Subscription, error)
}

// Options configures TTLs (spec §6: RESPONSE_LIST_TTL_SECONDS, a 1h status
// TTL refreshed while RUNNING).
type Options struct {
	ResponseListTTL time.Duration // default 24h
	StatusTTL       time.Duration // default 1h
}

func (o Options) withDefaults() Options {
	if o.ResponseListTTL <= 0 {
		o.ResponseListTTL = 24 * time.Hour
	}
	if o.StatusTTL <= 0 {
		o.StatusTTL = time.Hour
	}
	return o
}

// InProcess is a single-process Fabric: per-run response lists and
// subscriber queues live entirely in memory.
type InProcess struct {
	mu   sync.Mutex
	runs map[ids.ID]*runState
	opts Options
}

// NewInProcess builds an empty in-process Fabric.
func NewInProcess(opts Options) *InProcess {
	return &InProcess{runs: make(map[ids.ID]*runState), opts: opts.withDefaults()}
}

type runState struct {
	mu           sync.Mutex
	responseList []Event
	nextSeq      int64
	subs         map[*subQueue]struct{}
	closed       bool
	lastTouched  time.Time
}

func (f *InProcess) stateFor(runID ids.ID) *runState {
	f.mu.Lock()
	defer f.mu.Unlock()
	rs, ok := f.runs[runID]
	if !ok {
		rs = &runState{subs: make(map[*subQueue]struct{}), lastTouched: time.Now()}
		f.runs[runID] = rs
	}
	return rs
}

// Publish appends an event to runID's response list and fans it out to every
// live subscriber (spec §4.F invariants a-c).
func (f *InProcess) Publish(_ context.Context, runID ids.ID, kind EventKind, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	rs := f.stateFor(runID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.nextSeq++
	evt := Event{Seq: rs.nextSeq, RunID: runID, Kind: kind, Payload: raw, Timestamp: time.Now()}
	if kind == EventStatus {
		evt.TerminalStatus = isTerminalStatusPayload(raw)
	}
	rs.responseList = append(rs.responseList, evt)
	rs.lastTouched = evt.Timestamp

	for sq := range rs.subs {
		sq.push(evt)
		if evt.closesSubscription() {
			delete(rs.subs, sq)
		}
	}
	if evt.closesSubscription() {
		rs.closed = true
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

// Subscribe replays every prior entry in runID's response list, then
// forwards live events (spec §4.F subscriber contract). A subscriber
// joining after terminal state receives the full replay then immediate
// close.
func (f *InProcess) Subscribe(_ context.Context, runID ids.ID) (Subscription, error) {
	rs := f.stateFor(runID)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	sq := newSubQueue()
	replay := append([]Event(nil), rs.responseList...)
	sq.pushAll(replay)

	if rs.closed {
		sq.closeAfterQueueDrains()
	} else {
		rs.subs[sq] = struct{}{}
	}
	return sq, nil
}

// subQueue is a per-subscriber unbounded queue feeding an output channel,
// so one slow subscriber never blocks Publish or other subscribers
// (at-least-once delivery, spec §4.F).
type subQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	pending   []Event
	out       chan Event
	closeFlag bool
	started   bool
}

func newSubQueue() *subQueue {
	sq := &subQueue{out: make(chan Event, 16)}
	sq.cond = sync.NewCond(&sq.mu)
	sq.start()
	return sq
}

func (sq *subQueue) start() {
	if sq.started {
		return
	}
	sq.started = true
	go sq.pump()
}

func (sq *subQueue) pump() {
	for {
		sq.mu.Lock()
		for len(sq.pending) == 0 && !sq.closeFlag {
			sq.cond.Wait()
		}
		if len(sq.pending) == 0 && sq.closeFlag {
			sq.mu.Unlock()
			close(sq.out)
			return
		}
		evt := sq.pending[0]
		sq.pending = sq.pending[1:]
		sq.mu.Unlock()

		sq.out <- evt
		if evt.closesSubscription() {
			sq.mu.Lock()
			sq.closeFlag = true
			sq.mu.Unlock()
		}
	}
}

func (sq *subQueue) push(evt Event) {
	sq.mu.Lock()
	if sq.closeFlag {
		sq.mu.Unlock()
		return
	}
	sq.pending = append(sq.pending, evt)
	sq.mu.Unlock()
	sq.cond.Signal()
}

func (sq *subQueue) pushAll(events []Event) {
	if len(events) == 0 {
		return
	}
	sq.mu.Lock()
	sq.pending = append(sq.pending, events...)
	sq.mu.Unlock()
	sq.cond.Signal()
}

func (sq *subQueue) closeAfterQueueDrains() {
	sq.mu.Lock()
	sq.closeFlag = true
	sq.mu.Unlock()
	sq.cond.Signal()
}

func (sq *subQueue) Events() <-chan Event {
	return sq.out
}

func (sq *subQueue) Close() {
	sq.closeAfterQueueDrains()
}

// Prune drops response-list state for runs whose TTL has elapsed. Callers
// (typically a periodic background task owned by the Run Manager) invoke
// this to bound memory growth; it is never called implicitly.
func (f *InProcess) Prune(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for runID, rs := range f.runs {
		rs.mu.Lock()
		expired := now.Sub(rs.lastTouched) > f.opts.ResponseListTTL
		rs.mu.Unlock()
		if expired {
			delete(f.runs, runID)
		}
	}
}

var _ Fabric = (*InProcess)(nil)
