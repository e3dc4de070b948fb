package server

import (
	"encoding/json"
	"net/http"

	"github.com/marcus-qen/legator/internal/governanceerr"
)

// APIError is the standard error response body, matching the teacher's
// server/errors.go shape.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeGovernanceError maps a *governanceerr.Error to its HTTP status
// (spec §7's taxonomy-to-status mapping) and writes it as APIError.
func writeGovernanceError(w http.ResponseWriter, err error) {
	code := governanceerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case governanceerr.InvalidArgument:
		status = http.StatusBadRequest
	case governanceerr.Conflict:
		status = http.StatusConflict
	case governanceerr.NotFound:
		status = http.StatusNotFound
	case governanceerr.Forbidden:
		status = http.StatusForbidden
	case governanceerr.InvalidState:
		status = http.StatusConflict
	case governanceerr.Upstream:
		status = http.StatusBadGateway
	case governanceerr.Internal:
		status = http.StatusInternalServerError
	}
	writeJSONError(w, status, string(code), err.Error())
}
