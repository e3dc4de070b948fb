package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/marcus-qen/legator/internal/audit"
)

func parseAuditFilter(r *http.Request) audit.Filter {
	q := r.URL.Query()
	var f audit.Filter
	f.Team = q.Get("team")
	f.ServerCanonicalID = q.Get("serverCanonicalId")
	f.ToolName = q.Get("toolName")
	f.Decision = q.Get("decision")
	f.Actor = q.Get("actor")
	if v := q.Get("startDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.StartDate = t
		}
	}
	if v := q.Get("endDate"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.EndDate = t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}
	return f
}

type auditQueryResponse struct {
	Events []audit.Event `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	f := parseAuditFilter(r)
	result, err := s.auditLog.QueryPersisted(r.Context(), f)
	if err != nil {
		s.logger.Warn("audit query against store failed, falling back to in-memory cache")
		result = s.auditLog.Query(f)
	}
	writeJSON(w, http.StatusOK, auditQueryResponse{
		Events: result.Events, Total: result.Total, Limit: result.Limit, Offset: result.Offset,
	})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	f := parseAuditFilter(r)
	stats, err := s.auditLog.Stats(r.Context(), f)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to compute audit stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
