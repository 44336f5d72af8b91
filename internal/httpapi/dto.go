package httpapi

import "time"

// agentRunRequest is the JSON shape of the "request" multipart part
// (spec.md §6 AgentRunRequest).
type agentRunRequest struct {
	ModelName            string `json:"model_name"`
	EnableThinking       bool   `json:"enable_thinking"`
	ReasoningEffort      string `json:"reasoning_effort"`
	Stream               bool   `json:"stream"`
	EnableContextManager bool   `json:"enable_context_manager"`
	InitialPrompt        string `json:"initial_prompt"`
	UserID               string `json:"user_id,omitempty"`
}

func (r agentRunRequest) validate() error {
	switch r.ReasoningEffort {
	case "", "low", "medium", "high":
	default:
		return errInvalidReasoningEffort
	}
	if r.ModelName == "" {
		return errMissingModelName
	}
	return nil
}

// runResponse is the shape returned by POST /agent/runs and GET
// /agent/runs/{runId}.
type runResponse struct {
	RunID    string `json:"run_id"`
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// healthResponse is the shape returned by GET /agent/health.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
