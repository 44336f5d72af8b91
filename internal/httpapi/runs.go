package httpapi

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/ids"
	"github.com/loomrun/agentcore/internal/runmgr"
)

// maxUploadBytes bounds the multipart body accepted by POST /agent/runs.
const maxUploadBytes = 64 << 20 // 64MiB

// handleStartRun implements POST /agent/runs (spec.md §6): a multipart body
// whose "request" part is an AgentRunRequest JSON document and whose
// (optional, repeated) "files" part carries attachment bytes.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeValidationError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	req, err := decodeRunRequest(r.MultipartForm)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = userIDFromHeader(r)
	}
	if req.UserID == "" {
		writeError(w, errs.Wrap(errs.Unauthorized, errMissingUserID.Error(), errMissingUserID))
		return
	}
	if err := req.validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	attachments, err := decodeAttachments(r.MultipartForm)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	run, err := s.runs.StartRun(r.Context(), runmgr.Request{
		AccountID:            ids.ID(req.UserID),
		Model:                req.ModelName,
		InitialPrompt:        req.InitialPrompt,
		EnableContextManager: req.EnableContextManager,
		EnableThinking:       req.EnableThinking,
		ReasoningEffort:      req.ReasoningEffort,
		DispatchPolicy:       s.policy,
		Attachments:          attachments,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:    run.RunID.String(),
		ThreadID: run.ThreadID.String(),
		Status:   string(run.Status),
	})
}

// handleGetRun implements GET /agent/runs/{runId}.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	run, err := s.runs.Status(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:    run.RunID.String(),
		ThreadID: run.ThreadID.String(),
		Status:   string(run.Status),
		Error:    run.Error,
	})
}

// handleStopRun implements POST /agent/runs/{runId}/stop. Stop is
// idempotent (spec.md §5): calling it on a terminal run is a no-op that
// still returns the run's current (terminal) status.
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	runID, err := pathRunID(r)
	if err != nil {
		writeValidationError(w, err)
		return
	}
	run, err := s.runs.Stop(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunID:    run.RunID.String(),
		ThreadID: run.ThreadID.String(),
		Status:   string(run.Status),
	})
}

func pathRunID(r *http.Request) (ids.ID, error) {
	raw := chi.URLParam(r, "runId")
	if raw == "" {
		return "", errs.New(errs.InvalidRequest, "runId is required")
	}
	return ids.ID(raw), nil
}

func userIDFromHeader(r *http.Request) string {
	if v := r.Header.Get("X-Account-Id"); v != "" {
		return v
	}
	return r.Header.Get("Authorization")
}

// decodeRunRequest reads the "request" part's JSON body, accepting it
// either as a plain form value (no filename in its Content-Disposition) or
// as a file part (common for SDK multipart encoders that always attach a
// filename), since spec.md §6 doesn't pin down which.
func decodeRunRequest(form *multipart.Form) (agentRunRequest, error) {
	var req agentRunRequest
	if values := form.Value["request"]; len(values) > 0 {
		if err := json.Unmarshal([]byte(values[0]), &req); err != nil {
			return req, errs.Wrap(errs.InvalidRequest, "decode request JSON", err)
		}
		return req, nil
	}
	files := form.File["request"]
	if len(files) == 0 {
		return req, errs.New(errs.InvalidRequest, `missing "request" part`)
	}
	f, err := files[0].Open()
	if err != nil {
		return req, errs.Wrap(errs.InvalidRequest, "open request part", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&req); err != nil {
		return req, errs.Wrap(errs.InvalidRequest, "decode request JSON", err)
	}
	return req, nil
}

func decodeAttachments(form *multipart.Form) ([]runmgr.Attachment, error) {
	headers := form.File["files"]
	out := make([]runmgr.Attachment, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, errs.Wrap(errs.InvalidRequest, "open attachment "+fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errs.Wrap(errs.InvalidRequest, "read attachment "+fh.Filename, err)
		}
		out = append(out, runmgr.Attachment{Filename: fh.Filename, Data: data})
	}
	return out, nil
}
