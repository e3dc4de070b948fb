package server

import (
	"encoding/json"
	"net/http"

	"github.com/marcus-qen/legator/internal/registry"
)

type registerRequest struct {
	CanonicalID   string                 `json:"canonicalId"`
	Name          string                 `json:"name"`
	Description   string                 `json:"description"`
	OwnerTeam     string                 `json:"ownerTeam"`
	SourceType    string                 `json:"sourceType"`
	SourceURL     string                 `json:"sourceUrl"`
	Version       string                 `json:"version"`
	DeclaredTools []registry.DeclaredTool `json:"declaredTools"`
	MCPConfig     map[string]any         `json:"mcpConfig"`
	TestEndpoint  string                 `json:"testEndpoint"`
	Tags          []string               `json:"tags"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	srv, err := s.registry.Register(r.Context(), principalFromContext(r.Context()), registry.RegisterInput{
		CanonicalID:   req.CanonicalID,
		Name:          req.Name,
		Description:   req.Description,
		OwnerTeam:     req.OwnerTeam,
		SourceType:    registry.SourceType(req.SourceType),
		SourceURL:     req.SourceURL,
		Version:       req.Version,
		DeclaredTools: req.DeclaredTools,
		MCPConfig:     req.MCPConfig,
		TestEndpoint:  req.TestEndpoint,
		Tags:          req.Tags,
	})
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.registry.List(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := s.registry.Get(r.Context(), principalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleGetServerByCanonicalID(w http.ResponseWriter, r *http.Request) {
	srv, err := s.registry.GetByCanonicalID(r.Context(), principalFromContext(r.Context()), r.PathValue("canonicalId"))
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

type updateRequest struct {
	Name             *string                 `json:"name"`
	Description      *string                 `json:"description"`
	OwnerTeam        *string                 `json:"ownerTeam"`
	SourceURL        *string                 `json:"sourceUrl"`
	Version          *string                 `json:"version"`
	DeclaredTools    []registry.DeclaredTool `json:"declaredTools"`
	DeclaredToolsSet bool                    `json:"declaredToolsSet"`
	MCPConfig        map[string]any          `json:"mcpConfig"`
	MCPConfigSet     bool                    `json:"mcpConfigSet"`
	TestEndpoint     *string                 `json:"testEndpoint"`
	Tags             []string                `json:"tags"`
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	srv, err := s.registry.Update(r.Context(), principalFromContext(r.Context()), r.PathValue("id"), registry.UpdateInput{
		Name: req.Name, Description: req.Description, OwnerTeam: req.OwnerTeam,
		SourceURL: req.SourceURL, Version: req.Version, DeclaredTools: req.DeclaredTools,
		DeclaredToolsSet: req.DeclaredToolsSet, MCPConfig: req.MCPConfig, MCPConfigSet: req.MCPConfigSet,
		TestEndpoint: req.TestEndpoint, Tags: req.Tags,
	})
	if err != nil {
		writeGovernanceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), principalFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeGovernanceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
