package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rwa-platform/compliance-oracle/internal/scrapers"
	"github.com/rwa-platform/compliance-oracle/internal/simulator"
)

// requireOracle writes a 503 when the oracle loop is disabled.
func (s *Server) requireOracle(w http.ResponseWriter) bool {
	if s.oracle == nil {
		s.writeError(w, http.StatusServiceUnavailable, "oracle is disabled")
		return false
	}
	return true
}

// handleOracleAnalyze runs one regulatory update through the oracle.
// POST /oracle/analyze
func (s *Server) handleOracleAnalyze(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	var req struct {
		Jurisdiction string          `json:"jurisdiction"`
		Update       scrapers.Update `json:"update"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Jurisdiction == "" {
		s.writeError(w, http.StatusBadRequest, "jurisdiction is required")
		return
	}
	if req.Update.Title == "" && req.Update.Summary == "" {
		s.writeError(w, http.StatusBadRequest, "update title or summary is required")
		return
	}
	if req.Update.ID == "" {
		req.Update.ID = scrapers.UpdateID(req.Update.URL + req.Update.Title)
	}
	if req.Update.PublishedDate.IsZero() {
		req.Update.PublishedDate = time.Now()
	}

	outcome, err := s.oracle.ProcessUpdate(r.Context(), req.Update, req.Jurisdiction)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, outcome)
}

// handleListPending lists pending changes, optionally by jurisdiction.
// GET /oracle/pending?jurisdiction=US
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	pending, err := s.oracle.ListPending(r.URL.Query().Get("jurisdiction"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"count":   len(pending),
		"changes": pending,
	})
}

// handleGetPending returns one pending change.
// GET /oracle/pending/{changeID}
func (s *Server) handleGetPending(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	change, err := s.oracle.Get(chi.URLParam(r, "changeID"))
	if err != nil {
		s.writeChangeError(w, err)
		return
	}
	s.writeJSON(w, change)
}

// handleApprove approves a pending change.
// POST /oracle/pending/{changeID}/approve
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	var req struct {
		Reviewer         string `json:"reviewer"`
		Notes            string `json:"notes"`
		ApplyImmediately bool   `json:"apply_immediately"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reviewer == "" {
		s.writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}

	change, err := s.oracle.Approve(chi.URLParam(r, "changeID"), req.Reviewer, req.Notes, req.ApplyImmediately)
	if err != nil {
		if change != nil {
			// Approved but the ruleset apply failed.
			s.writeJSONStatus(w, http.StatusInternalServerError, map[string]interface{}{
				"error":  err.Error(),
				"change": change,
			})
			return
		}
		s.writeChangeError(w, err)
		return
	}
	s.writeJSON(w, change)
}

// handleReject rejects a pending change.
// POST /oracle/pending/{changeID}/reject
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	var req struct {
		Reviewer string `json:"reviewer"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reviewer == "" {
		s.writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}

	change, err := s.oracle.Reject(chi.URLParam(r, "changeID"), req.Reviewer, req.Reason)
	if err != nil {
		s.writeChangeError(w, err)
		return
	}
	s.writeJSON(w, change)
}

// handleSimulate re-runs the impact simulation for a change.
// POST /oracle/pending/{changeID}/simulate
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	var req struct {
		UseLiveData bool `json:"use_live_data"`
	}
	// Body is optional; default is a mock-population run.
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	result, err := s.oracle.RunSimulation(r.Context(), chi.URLParam(r, "changeID"), req.UseLiveData)
	if err != nil {
		s.writeChangeError(w, err)
		return
	}
	s.writeJSON(w, result)
}

// handleImpact returns the stored simulation summary without casualties.
// GET /oracle/pending/{changeID}/impact
func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	change, err := s.oracle.Get(chi.URLParam(r, "changeID"))
	if err != nil {
		s.writeChangeError(w, err)
		return
	}
	result, err := decodeSimulation(change.ImpactSimulation)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no simulation available for this change")
		return
	}

	summary := *result
	summary.Casualties = nil
	s.writeJSON(w, map[string]interface{}{
		"change_id":      change.ID,
		"simulation":     summary,
		"casualty_count": len(result.Casualties),
	})
}

// handleCasualties pages through a simulation's casualty list.
// GET /oracle/pending/{changeID}/casualties?limit=50&offset=0
func (s *Server) handleCasualties(w http.ResponseWriter, r *http.Request) {
	if !s.requireOracle(w) {
		return
	}

	change, err := s.oracle.Get(chi.URLParam(r, "changeID"))
	if err != nil {
		s.writeChangeError(w, err)
		return
	}
	result, err := decodeSimulation(change.ImpactSimulation)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "no simulation available for this change")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	total := len(result.Casualties)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	s.writeJSON(w, map[string]interface{}{
		"change_id":  change.ID,
		"total":      total,
		"limit":      limit,
		"offset":     offset,
		"casualties": result.Casualties[offset:end],
	})
}

// handleHistory returns a jurisdiction's applied-change history.
// GET /oracle/history/{jurisdiction}?limit=20
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	jurisdiction := strings.ToUpper(chi.URLParam(r, "jurisdiction"))
	limit := queryInt(r, "limit", 20)

	history, err := s.rules.History(jurisdiction, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"jurisdiction": jurisdiction,
		"count":        len(history),
		"changelog":    history,
	})
}

// writeChangeError maps service errors onto HTTP statuses: missing changes
// are 404, review-state violations are 400.
func (s *Server) writeChangeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.writeError(w, http.StatusNotFound, "change not found")
	case strings.Contains(err.Error(), "only pending_review"):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeSimulation recovers a typed result from the stored simulation, which
// is a plain map after a JSON reload.
func decodeSimulation(stored interface{}) (*simulator.Result, error) {
	if stored == nil {
		return nil, errors.New("no simulation stored")
	}
	if result, ok := stored.(*simulator.Result); ok {
		return result, nil
	}

	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, err
	}
	var result simulator.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	if result.SimulationID == "" {
		return nil, errors.New("stored simulation is not a result")
	}
	return &result, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
