// Package dispatcher implements the Tool Dispatcher (spec §4.C): it resolves
// parsed ToolCalls against a Registry, validates arguments against the
// tool's JSON schema, executes handlers (parallel or sequential), and
// collects ToolResults in deterministic, parse-order.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/registry"
)

// Strategy selects how pending calls within one iteration are executed.
type Strategy string

const (
	Sequential Strategy = "sequential"
	Parallel   Strategy = "parallel"
)

// Policy configures dispatch behavior per-thread (spec §4.C table).
type Policy struct {
	XMLToolCalling     bool
	NativeToolCalling  bool
	ExecuteTools       bool
	ExecuteOnStream    bool
	Strategy           Strategy
	MaxXMLToolCalls    int
	ToolTimeout        time.Duration
}

// EventSink receives per-call start/completion events for the streaming
// fabric (spec §4.C: "the dispatcher reports, for each call, a start event
// and a completion event").
type EventSink interface {
	ToolStart(call model.ToolCall)
	ToolResult(call model.ToolCall, result model.ToolResult)
}

// NoopSink discards events; useful in tests.
type NoopSink struct{}

func (NoopSink) ToolStart(model.ToolCall)                    {}
func (NoopSink) ToolResult(model.ToolCall, model.ToolResult) {}

// Dispatcher executes ToolCalls against a Registry under a Policy.
type Dispatcher struct {
	registry *registry.Registry
	policy   Policy
	sink     EventSink

	limiter    toolLimiter
	limiterKey string
	metrics    toolMetrics
}

// toolLimiter is the admission gate SPEC_FULL.md §4.O's internal/ratelimit
// package satisfies; declared here (rather than imported as a concrete
// type) so this package doesn't depend on ratelimit's internals.
type toolLimiter interface {
	Wait(ctx context.Context, key string) error
}

// toolMetrics is the subset of internal/telemetry.Metrics this package
// records to, declared locally for the same decoupling reason as
// toolLimiter.
type toolMetrics interface {
	RecordToolExecution(tool, status string, duration time.Duration)
}

// New builds a Dispatcher.
func New(reg *registry.Registry, policy Policy, sink EventSink) *Dispatcher {
	if sink == nil {
		sink = NoopSink{}
	}
	if policy.ToolTimeout <= 0 {
		policy.ToolTimeout = 60 * time.Second
	}
	return &Dispatcher{registry: reg, policy: policy, sink: sink}
}

// WithLimiter attaches a per-key admission gate (SPEC_FULL.md §4.O): every
// invoke call waits for key's bucket before running the tool handler.
// Returns d for chaining.
func (d *Dispatcher) WithLimiter(l toolLimiter, key string) *Dispatcher {
	d.limiter = l
	d.limiterKey = key
	return d
}

// WithMetrics attaches a recorder for per-tool execution outcomes and
// durations (SPEC_FULL.md §4.L). Returns d for chaining.
func (d *Dispatcher) WithMetrics(m toolMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// Execute runs calls according to the configured strategy and returns
// ToolResults in the same order as calls (Invariant: parallel dispatch
// results are reordered to match parse order regardless of completion
// order).
func (d *Dispatcher) Execute(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	if !d.policy.ExecuteTools {
		results := make([]model.ToolResult, len(calls))
		for i, c := range calls {
			results[i] = model.ToolResult{CallID: c.CallID, Success: false, Skipped: true}
			d.sink.ToolStart(c)
			d.sink.ToolResult(c, results[i])
		}
		return results
	}

	switch d.policy.Strategy {
	case Parallel:
		return d.executeParallel(ctx, calls)
	default:
		return d.executeSequential(ctx, calls)
	}
}

func (d *Dispatcher) executeSequential(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))
	for i, c := range calls {
		results[i] = d.executeOne(ctx, c)
	}
	return results
}

func (d *Dispatcher) executeParallel(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))
	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, c := range calls {
		i, c := i, c
		go func() {
			defer wg.Done()
			results[i] = d.executeOne(ctx, c)
		}()
	}
	wg.Wait()
	return results
}

// executeOne invokes a single call's handler under the configured timeout.
// Every handler invocation is wrapped so uncaught panics and errors become
// ToolResults with success=false; the conversation is never aborted by a
// tool failure (spec §4.C).
func (d *Dispatcher) executeOne(ctx context.Context, call model.ToolCall) model.ToolResult {
	d.sink.ToolStart(call)
	result := d.invoke(ctx, call)
	d.sink.ToolResult(call, result)
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, call model.ToolCall) (result model.ToolResult) {
	result.CallID = call.CallID

	if d.metrics != nil {
		start := time.Now()
		defer func() {
			status := "success"
			if !result.Success {
				status = "error"
			}
			d.metrics.RecordToolExecution(call.ToolName, status, time.Since(start))
		}()
	}

	spec, ok := d.registry.LookupByName(call.ToolName)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", call.ToolName)
		return result
	}
	if call.Origin == model.OriginJSON && !d.policy.NativeToolCalling {
		result.Error = "native tool calling is disabled for this thread"
		return result
	}
	if call.Origin == model.OriginXML && !d.policy.XMLToolCalling {
		result.Error = "xml tool calling is disabled for this thread"
		return result
	}

	if spec.ParamsSchema != nil {
		var decoded any
		if err := json.Unmarshal(call.Arguments, &decoded); err != nil {
			result.Error = fmt.Sprintf("invalid arguments: %v", err)
			return result
		}
		if err := spec.ParamsSchema.Validate(decoded); err != nil {
			result.Error = fmt.Sprintf("arguments failed schema validation: %v", err)
			return result
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.policy.ToolTimeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(callCtx, d.limiterKey); err != nil {
			result.Error = err.Error()
			return result
		}
	}

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool handler panicked: %v", r)}
			}
		}()
		payload, err := spec.Handler(callCtx, call.Arguments)
		done <- outcome{payload: payload, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			result.Error = o.err.Error()
			return result
		}
		raw, err := json.Marshal(o.payload)
		if err != nil {
			result.Error = fmt.Sprintf("failed to encode tool result: %v", err)
			return result
		}
		result.Success = true
		result.Payload = raw
		return result
	case <-callCtx.Done():
		result.Error = fmt.Sprintf("tool %q timed out after %s", call.ToolName, d.policy.ToolTimeout)
		return result
	}
}
