package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/marcus-qen/legator/internal/registry"
)

type decisionRequest struct {
	Reason         string     `json:"reason"`
	Notes          string     `json:"notes"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	OverrideReason string     `json:"overrideReason"`
}

func (r decisionRequest) toInput() registry.DecisionInput {
	return registry.DecisionInput{Reason: r.Reason, Notes: r.Notes, ExpiresAt: r.ExpiresAt, OverrideReason: r.OverrideReason}
}

func decodeDecision(r *http.Request) (decisionRequest, bool) {
	var req decisionRequest
	if r.Body == nil {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, false
	}
	return req, true
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	approval, err := s.registry.Approve(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), req.toInput())
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	approval, err := s.registry.Deny(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), req.toInput())
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	approval, err := s.registry.Suspend(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), req.toInput())
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

func (s *Server) handleReinstate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeDecision(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	approval, err := s.registry.Reinstate(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), req.toInput())
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}
