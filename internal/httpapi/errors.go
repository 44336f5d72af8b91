package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomrun/agentcore/internal/errs"
)

var (
	errInvalidReasoningEffort = errors.New("reasoning_effort must be one of: low, medium, high")
	errMissingModelName       = errors.New("model_name is required")
	errMissingUserID          = errors.New("no user_id in request body or auth header")
)

// statusFor maps an errs.Kind to the HTTP status code spec.md §6's table
// calls for.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.InvalidRequest:
		return http.StatusBadRequest
	case errs.Unauthorized:
		return http.StatusUnauthorized
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.AdmissionTimeout, errs.UpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(kind))
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Kind: string(kind)})
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeError(w, errs.Wrap(errs.InvalidRequest, err.Error(), err))
}
