package server

import (
	"io"
	"net/http"

	"github.com/marcus-qen/legator/internal/governanceerr"
)

func (s *Server) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.registry.SubmitForScan(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scan)
}

func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if s.scanCanceller == nil {
		writeGovernanceError(w, governanceerr.Upstreamf(nil, "scan orchestrator not configured"))
		return
	}
	latest, err := s.registry.LatestScan(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	if err := s.scanCanceller.Cancel(r.Context(), latest.ID); err != nil {
		writeGovernanceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadLocalScan(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "failed to read scan report body")
		return
	}
	scan, err := s.registry.UploadLocalScan(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), payload)
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.registry.ListScans(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.registry.GetScan(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), r.PathValue("sid"))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (s *Server) handleLatestScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.registry.LatestScan(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}
