package server

import (
	"encoding/json"
	"net/http"

	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
)

// writeJSON writes a JSON response with status 200.
func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	s.writeJSONStatus(w, http.StatusOK, v)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSONStatus(w, status, map[string]string{"error": message})
}

// handleHealth reports service readiness and the active reasoner config.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":               "healthy",
		"ai_provider":          "together",
		"model":                s.model,
		"confidence_threshold": s.compliance.ConfidenceThreshold(),
		"rules_loaded":         s.rules.LoadedVersions(),
		"oracle_enabled":       s.oracle != nil,
	})
}

// handleClassifyJurisdiction classifies a legal document.
// POST /classify-jurisdiction
func (s *Server) handleClassifyJurisdiction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentText string `json:"document_text"`
		DocumentType string `json:"document_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DocumentText == "" {
		s.writeError(w, http.StatusBadRequest, "document_text is required")
		return
	}
	if req.DocumentType == "" {
		req.DocumentType = "legal_document"
	}

	result, err := s.compliance.ClassifyDocument(r.Context(), req.DocumentText, req.DocumentType)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, result)
}

// handleResolveConflicts reconciles requirements across jurisdictions.
// POST /resolve-conflicts
func (s *Server) handleResolveConflicts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Jurisdictions []string `json:"jurisdictions"`
		AssetType     string   `json:"asset_type"`
		InvestorTypes []string `json:"investor_types"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Jurisdictions) < 2 {
		s.writeError(w, http.StatusBadRequest, "at least two jurisdictions are required")
		return
	}
	if req.AssetType == "" {
		req.AssetType = "real_estate"
	}
	if len(req.InvestorTypes) == 0 {
		req.InvestorTypes = []string{"accredited", "retail"}
	}

	result, err := s.compliance.ResolveConflicts(r.Context(), req.Jurisdictions, req.AssetType, req.InvestorTypes)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, result)
}

// handleValidateTokenCompliance checks token transfer rules.
// POST /validate-token-compliance
func (s *Server) handleValidateTokenCompliance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Jurisdiction string              `json:"jurisdiction"`
		TokenRules   reasoner.TokenRules `json:"token_rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Jurisdiction == "" {
		s.writeError(w, http.StatusBadRequest, "jurisdiction is required")
		return
	}

	result, err := s.compliance.ValidateToken(r.Context(), req.Jurisdiction, req.TokenRules)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, result)
}
