// Package runmgr implements the Run Manager (spec §4.H): it accepts a run
// request, performs setup (account -> project -> sandbox -> thread,
// attachments, initial message), schedules the Thread Manager's loop onto a
// bounded worker (internal/engine), and tracks status/cancellation for an
// in-flight AgentRun.
package runmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/loomrun/agentcore/internal/contextmgr"
	"github.com/loomrun/agentcore/internal/dispatcher"
	"github.com/loomrun/agentcore/internal/engine"
	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/llm"
	"github.com/loomrun/agentcore/internal/model"
	"github.com/loomrun/agentcore/internal/ratelimit"
	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/sandbox"
	"github.com/loomrun/agentcore/internal/store"
	"github.com/loomrun/agentcore/internal/streamfabric"
	"github.com/loomrun/agentcore/internal/telemetry"
	"github.com/loomrun/agentcore/internal/thread"
)

// Attachment is a file uploaded alongside a run request, copied into the
// sandbox workspace at setup (spec.md §6 multipart `files` part).
type Attachment struct {
	Filename string
	Data     []byte
}

// Request configures one call to StartRun.
type Request struct {
	AccountID            ids.ID
	ProjectID            ids.ID // empty: a new project is created
	ThreadID             ids.ID // empty: a new thread is created
	Model                string
	SystemPrompt         string
	InitialPrompt        string
	EnableContextManager bool
	EnableThinking       bool
	ReasoningEffort      string
	DispatchPolicy       dispatcher.Policy
	Attachments          []Attachment
}

// Options configures the Manager's scheduling/heartbeat defaults.
type Options struct {
	AdmissionTimeout time.Duration // default 60s, spec §5
	HeartbeatTTL     time.Duration // default 1h, spec §6 RESPONSE_LIST_TTL-adjacent status TTL
	Now              func() time.Time

	// Limiters, if set, bounds concurrent tool invocations per thread
	// (SPEC_FULL.md §4.O). Nil disables rate limiting.
	Limiters *ratelimit.Limiters

	// Metrics, if set, records run-lifecycle counters/histograms
	// (SPEC_FULL.md §4.L). Nil disables metrics recording.
	Metrics *telemetry.Metrics

	// ContextManager, if set, is handed to every thread.Manager whose
	// Request sets EnableContextManager (spec §4.E). Nil makes that flag a
	// no-op, since there is nothing to compact with.
	ContextManager *contextmgr.Manager
}

func (o Options) withDefaults() Options {
	if o.AdmissionTimeout <= 0 {
		o.AdmissionTimeout = 60 * time.Second
	}
	if o.HeartbeatTTL <= 0 {
		o.HeartbeatTTL = time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Manager is the Run Manager. Its in-memory run map is guarded by a single
// RWMutex (spec §5: "guarded by a single reader-writer lock or an
// equivalent concurrent-map abstraction").
type Manager struct {
	projectStore store.ProjectStore
	msgStore     store.Store
	runStore     store.RunStore
	sandboxes    sandbox.Provider
	llmClient    llm.Client
	registry     *registry.Registry
	fabric       streamfabric.Fabric
	eng          engine.Engine
	heartbeat    *heartbeatRegistry
	opts         Options

	mu   sync.RWMutex
	runs map[ids.ID]*runEntry
}

type runEntry struct {
	threadID ids.ID
	handle   engine.Handle
}

// New builds a Manager. ctxMgr may be nil if no caller ever sets
// EnableContextManager.
func New(
	projectStore store.ProjectStore,
	msgStore store.Store,
	runStore store.RunStore,
	sandboxes sandbox.Provider,
	llmClient llm.Client,
	reg *registry.Registry,
	fabric streamfabric.Fabric,
	eng engine.Engine,
	opts Options,
) *Manager {
	return &Manager{
		projectStore: projectStore,
		msgStore:     msgStore,
		runStore:     runStore,
		sandboxes:    sandboxes,
		llmClient:    llmClient,
		registry:     reg,
		fabric:       fabric,
		eng:          eng,
		heartbeat:    newHeartbeatRegistry(),
		opts:         opts.withDefaults(),
		runs:         make(map[ids.ID]*runEntry),
	}
}

// StartRun performs setup and schedules the run's worker. It returns as
// soon as the run is admitted and marked RUNNING, or scheduling fails; it does not
// wait for the conversation loop to finish.
func (m *Manager) StartRun(ctx context.Context, req Request) (*model.AgentRun, error) {
	projectID := req.ProjectID
	if projectID.Empty() {
		projectID = ids.New()
	}
	project, err := m.projectStore.EnsureProject(ctx, req.AccountID, projectID)
	if err != nil {
		return nil, err
	}

	if project.SandboxRef == "" {
		ref, err := m.sandboxes.Create(ctx, project.ProjectID.String())
		if err != nil {
			return nil, errs.Wrap(errs.UpstreamFailure, "create sandbox", err)
		}
		if err := m.projectStore.SetSandboxRef(ctx, project.ProjectID, ref); err != nil {
			return nil, err
		}
		project.SandboxRef = ref
	}
	if err := m.sandboxes.Start(ctx, project.SandboxRef); err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, "start sandbox", err)
	}

	threadID := req.ThreadID
	if threadID.Empty() {
		threadID = ids.New()
	}
	if _, err := m.projectStore.EnsureThread(ctx, project.ProjectID, req.AccountID, threadID); err != nil {
		return nil, err
	}

	for _, att := range req.Attachments {
		if err := m.sandboxes.WriteFile(ctx, project.SandboxRef, att.Filename, att.Data); err != nil {
			return nil, errs.Wrap(errs.UpstreamFailure, "upload attachment "+att.Filename, err)
		}
	}

	if req.InitialPrompt != "" {
		content, err := json.Marshal(req.InitialPrompt)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "marshal initial prompt", err)
		}
		if _, err := m.msgStore.AppendMessage(ctx, threadID, model.MessageUser, content, true, nil); err != nil {
			return nil, errs.Wrap(errs.Internal, "persist initial message", err)
		}
	}

	run := &model.AgentRun{
		RunID:     ids.New(),
		ThreadID:  threadID,
		ProjectID: project.ProjectID,
		Status:    model.RunPending,
		StartedAt: m.opts.Now(),
	}
	if err := m.runStore.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	if m.opts.Metrics != nil {
		m.opts.Metrics.RunStarted(req.Model)
	}

	m.mu.Lock()
	m.runs[run.RunID] = &runEntry{threadID: threadID}
	m.mu.Unlock()

	admitCtx, cancel := context.WithTimeout(context.Background(), m.opts.AdmissionTimeout)
	handle, err := m.eng.Submit(admitCtx, m.worker(run, threadID, project.SandboxRef, req))
	cancel()
	if err != nil {
		m.finish(context.Background(), run.RunID, model.RunFailed, errs.Wrap(errs.AdmissionTimeout, "worker pool saturated", err))
		m.mu.Lock()
		delete(m.runs, run.RunID)
		m.mu.Unlock()
		return nil, errs.Wrap(errs.AdmissionTimeout, "run not admitted within deadline", err)
	}

	m.mu.Lock()
	m.runs[run.RunID].handle = handle
	m.mu.Unlock()

	if err := m.transition(ctx, run.RunID, model.RunRunning, ""); err != nil {
		return nil, err
	}
	run.Status = model.RunRunning
	return run, nil
}

// worker builds the Task the engine schedules: it drives the Thread
// Manager's loop to completion, refreshing the heartbeat while running, and
// finalizes the run's terminal status.
func (m *Manager) worker(run *model.AgentRun, threadID ids.ID, sandboxRef string, req Request) engine.Task {
	return func(ctx context.Context) error {
		stop := m.startHeartbeat(run.RunID)
		defer stop()

		ctx = sandbox.WithRef(ctx, sandboxRef)

		dispatch := dispatcher.New(m.registry, req.DispatchPolicy, nil)
		if m.opts.Limiters != nil {
			dispatch.WithLimiter(m.opts.Limiters, ratelimit.ThreadKey(threadID.String()))
		}
		if m.opts.Metrics != nil {
			dispatch.WithMetrics(m.opts.Metrics)
		}
		var ctxMgr *contextmgr.Manager
		if req.EnableContextManager {
			ctxMgr = m.opts.ContextManager
		}
		threadMgr := thread.New(m.msgStore, ctxMgr, m.llmClient, m.registry, dispatch, m.fabric)
		if m.opts.Metrics != nil {
			threadMgr.WithMetrics(m.opts.Metrics)
		}

		_, runErr := threadMgr.Run(ctx, thread.Request{
			ThreadID:             threadID,
			RunID:                run.RunID,
			Model:                req.Model,
			SystemPrompt:         req.SystemPrompt,
			EnableContextManager: req.EnableContextManager,
			EnableThinking:       req.EnableThinking,
			ReasoningEffort:      req.ReasoningEffort,
			DispatchPolicy:       req.DispatchPolicy,
		})

		final := model.RunCompleted
		if runErr != nil {
			final = model.RunFailed
			if errs.Is(runErr, errs.Cancelled) {
				final = model.RunStopped
			}
		}
		if cur := m.currentStatus(run.RunID); cur == model.RunStopped {
			final = model.RunStopped
		}
		m.finish(context.Background(), run.RunID, final, runErr)
		if m.opts.Metrics != nil {
			m.opts.Metrics.RunFinished(string(final), m.opts.Now().Sub(run.StartedAt))
		}
		return runErr
	}
}

func (m *Manager) startHeartbeat(runID ids.ID) (stop func()) {
	m.heartbeat.refresh(runID, m.opts.HeartbeatTTL, m.opts.Now())
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(m.opts.HeartbeatTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.heartbeat.refresh(runID, m.opts.HeartbeatTTL, m.opts.Now())
			}
		}
	}()
	return func() { close(done); m.heartbeat.clear(runID) }
}

func (m *Manager) currentStatus(runID ids.ID) model.RunStatus {
	run, err := m.runStore.GetRun(context.Background(), runID)
	if err != nil {
		return ""
	}
	return run.Status
}

func (m *Manager) transition(ctx context.Context, runID ids.ID, status model.RunStatus, errMsg string) error {
	if err := m.runStore.UpdateStatus(ctx, runID, status, errMsg, nil); err != nil {
		return err
	}
	_, err := m.fabric.Publish(ctx, runID, streamfabric.EventStatus, map[string]string{"status": string(status)})
	return err
}

func (m *Manager) finish(ctx context.Context, runID ids.ID, status model.RunStatus, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	now := m.opts.Now()
	_ = m.runStore.UpdateStatus(ctx, runID, status, errMsg, &now)
	_, _ = m.fabric.Publish(ctx, runID, streamfabric.EventStatus, map[string]string{"status": string(status)})
}

// Status returns the current AgentRun record. Per spec §4.H, a RUNNING
// record whose worker has stopped heartbeating is reported as FAILED
// (best-effort, since the in-memory map is authoritative only while the
// owning process is alive).
func (m *Manager) Status(ctx context.Context, runID ids.ID) (*model.AgentRun, error) {
	run, err := m.runStore.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == model.RunRunning && !m.heartbeat.alive(runID, m.opts.Now()) {
		now := m.opts.Now()
		_ = m.runStore.UpdateStatus(ctx, runID, model.RunFailed, "worker heartbeat expired", &now)
		run.Status = model.RunFailed
		run.EndedAt = &now
	}
	return run, nil
}

// Stop requests cancellation of runID's worker. Idempotent: stopping a
// terminal run is a no-op (spec §5 cancellation).
func (m *Manager) Stop(ctx context.Context, runID ids.ID) (*model.AgentRun, error) {
	run, err := m.runStore.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	m.mu.RLock()
	entry, ok := m.runs[runID]
	m.mu.RUnlock()
	if ok && entry.handle != nil {
		entry.handle.Cancel()
	}

	if err := m.transition(ctx, runID, model.RunStopped, ""); err != nil {
		return nil, err
	}
	run.Status = model.RunStopped
	return run, nil
}

// ThreadFor returns the thread a run belongs to.
func (m *Manager) ThreadFor(ctx context.Context, runID ids.ID) (ids.ID, error) {
	run, err := m.runStore.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.ThreadID, nil
}

// RecoverCrashedRuns is the startup sweep (SPEC_FULL.md §9 crash-recovery
// resolution): any run this fresh process's heartbeat registry does not
// know about is, by construction, owned by a worker that is gone.
func (m *Manager) RecoverCrashedRuns(ctx context.Context) error {
	running, err := m.runStore.ListByStatus(ctx, model.RunRunning)
	if err != nil {
		return err
	}
	now := m.opts.Now()
	for _, run := range running {
		if m.heartbeat.alive(run.RunID, now) {
			continue
		}
		endedAt := now
		if err := m.runStore.UpdateStatus(ctx, run.RunID, model.RunFailed, "recovered: worker did not survive restart", &endedAt); err != nil {
			return err
		}
	}
	return nil
}
