package server

import "net/http"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /registry/servers", s.handleRegister)
	mux.HandleFunc("GET /registry/servers", s.handleListServers)
	mux.HandleFunc("GET /registry/servers/{id}", s.handleGetServer)
	mux.HandleFunc("GET /registry/servers/by-canonical-id/{canonicalId}", s.handleGetServerByCanonicalID)
	mux.HandleFunc("PUT /registry/servers/{id}", s.handleUpdateServer)
	mux.HandleFunc("DELETE /registry/servers/{id}", s.handleDeleteServer)

	mux.HandleFunc("POST /registry/servers/{id}/scan", s.handleSubmitScan)
	mux.HandleFunc("POST /registry/servers/{id}/scan/cancel", s.handleCancelScan)
	mux.HandleFunc("POST /registry/servers/{id}/scan/upload", s.handleUploadLocalScan)
	mux.HandleFunc("GET /registry/servers/{id}/scans", s.handleListScans)
	mux.HandleFunc("GET /registry/servers/{id}/scans/{sid}", s.handleGetScan)
	mux.HandleFunc("GET /registry/servers/{id}/scan/latest", s.handleLatestScan)

	mux.HandleFunc("POST /registry/servers/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /registry/servers/{id}/deny", s.handleDeny)
	mux.HandleFunc("POST /registry/servers/{id}/suspend", s.handleSuspend)
	mux.HandleFunc("POST /registry/servers/{id}/reinstate", s.handleReinstate)

	mux.HandleFunc("GET /registry/audit", s.handleAuditQuery)
	mux.HandleFunc("GET /registry/audit/stats", s.handleAuditStats)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("GET /healthz", s.handleHealthz)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
