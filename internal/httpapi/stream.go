package httpapi

import (
	"fmt"
	"net/http"

	"github.com/loomrun/agentcore/internal/errs"
)

// handleStreamRun implements GET /agent/runs/{runId}/stream: spec.md §6's
// "event: <kind>\ndata: <json>\n\n" SSE format, replay-then-live per the
// Streaming Fabric's Subscription contract. http.Flusher is used directly;
// nothing in the examples fits SSE's narrow flush-per-event need better
// than the stdlib.
func (s *Server) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errs.New(errs.Internal, "streaming unsupported by this response writer"))
		return
	}

	sub, err := s.fabric.Subscribe(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			payload := evt.Payload
			if len(payload) == 0 {
				payload = []byte("null")
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, payload)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
