package runmgr

import (
	"sync"
	"time"

	"github.com/loomrun/agentcore/internal/ids"
)

// heartbeatRegistry is the in-process stand-in for the "key-value substrate"
// spec.md §4.H describes: a TTL-backed liveness signal that a worker
// refreshes only while it is actually running a given run. An entry's
// absence (expired or never set) means the owning worker is gone, which is
// exactly the crash-recovery sweep's signal (SPEC_FULL.md §9). Because this
// map lives in process memory, a process restart starts it empty — which is
// the correct behavior: nothing can be "alive" until a worker says so again.
type heartbeatRegistry struct {
	mu      sync.Mutex
	expires map[ids.ID]time.Time
}

func newHeartbeatRegistry() *heartbeatRegistry {
	return &heartbeatRegistry{expires: make(map[ids.ID]time.Time)}
}

func (h *heartbeatRegistry) refresh(runID ids.ID, ttl time.Duration, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expires[runID] = now.Add(ttl)
}

func (h *heartbeatRegistry) clear(runID ids.ID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.expires, runID)
}

func (h *heartbeatRegistry) alive(runID ids.ID, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	exp, ok := h.expires[runID]
	return ok && now.Before(exp)
}
