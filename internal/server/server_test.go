package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwa-platform/compliance-oracle/internal/compliance"
	"github.com/rwa-platform/compliance-oracle/internal/config"
	"github.com/rwa-platform/compliance-oracle/internal/oracle"
	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
	"github.com/rwa-platform/compliance-oracle/internal/simulator"
)

const incomePath = "accredited_investor_definition.categories.natural_person_income.thresholds.individual_income"

type fakeAnalyzer struct {
	proposal *reasoner.ChangeProposal
}

func (f *fakeAnalyzer) AnalyzeRegulatoryImpact(ctx context.Context, updateText string, currentRules map[string]interface{}, jurisdiction, targetFile string) (*reasoner.ChangeProposal, error) {
	p := *f.proposal
	return &p, nil
}

func newTestServer(t *testing.T, withOracle bool) *Server {
	t.Helper()

	rulesDir := t.TempDir()
	seed := rules.Ruleset{
		"version": "2026.08.01.001",
		"accredited_investor_definition": map[string]interface{}{
			"categories": map[string]interface{}{
				"natural_person_income": map[string]interface{}{
					"thresholds": map[string]interface{}{
						"individual_income": 200000.0,
					},
				},
			},
		},
	}
	raw, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "us_sec_rules.json"), raw, 0644))

	rulesStore, err := rules.NewStore(rulesDir, nil, zerolog.Nop())
	require.NoError(t, err)

	var oracleSvc *oracle.Service
	if withOracle {
		changes, err := oracle.NewChangeStore(t.TempDir(), zerolog.Nop())
		require.NoError(t, err)
		oracleSvc = oracle.New(oracle.Config{
			Analyzer: &fakeAnalyzer{proposal: &reasoner.ChangeProposal{
				IsRelevant: true,
				Confidence: 0.9,
				Summary:    "Raise the individual income threshold",
				TargetFile: "us_sec_rules.json",
				FieldPath:  incomePath,
				OldValue:   200000.0,
				NewValue:   250000.0,
			}},
			Rules:     rulesStore,
			Simulator: simulator.New(nil, zerolog.Nop()),
			Changes:   changes,
		}, zerolog.Nop())
	}

	return New(Config{
		Log:        zerolog.Nop(),
		Config:     &config.Config{DataDir: t.TempDir()},
		Compliance: compliance.New(nil, rulesStore, 0.7, zerolog.Nop()),
		Oracle:     oracleSvc,
		Rules:      rulesStore,
		Model:      "test-model",
		DevMode:    true,
	})
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, true)

	rr := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, true, body["oracle_enabled"])

	versions, ok := body["rules_loaded"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2026.08.01.001", versions["US"])
}

func TestClassifyJurisdictionFallback(t *testing.T) {
	srv := newTestServer(t, false)

	rr := doJSON(t, srv, http.MethodPost, "/classify-jurisdiction", map[string]string{
		"document_text": "Subscription agreement filed with the Securities and Exchange Commission",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeBody(t, rr)
	assert.Equal(t, "US", body["jurisdiction"])
	assert.Equal(t, true, body["requires_manual_review"], "heuristic results always require review")
}

func TestClassifyJurisdictionRequiresText(t *testing.T) {
	srv := newTestServer(t, false)

	rr := doJSON(t, srv, http.MethodPost, "/classify-jurisdiction", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestResolveConflictsValidation(t *testing.T) {
	srv := newTestServer(t, false)

	rr := doJSON(t, srv, http.MethodPost, "/resolve-conflicts", map[string]interface{}{
		"jurisdictions": []string{"US"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "one jurisdiction cannot conflict with itself")

	rr = doJSON(t, srv, http.MethodPost, "/resolve-conflicts", map[string]interface{}{
		"jurisdictions": []string{"US", "SG"},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["is_fallback"], "no reasoner means the strictest-rule fallback")
}

func TestValidateTokenWithoutReasoner(t *testing.T) {
	srv := newTestServer(t, false)

	rr := doJSON(t, srv, http.MethodPost, "/validate-token-compliance", map[string]interface{}{
		"jurisdiction": "US",
		"token_rules":  map[string]interface{}{"asset_type": "real_estate"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOracleEndpointsDisabled(t *testing.T) {
	srv := newTestServer(t, false)

	rr := doJSON(t, srv, http.MethodPost, "/oracle/analyze", map[string]interface{}{
		"jurisdiction": "US",
		"update":       map[string]string{"title": "Final rule"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = doJSON(t, srv, http.MethodGet, "/oracle/pending", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOracleReviewLifecycle(t *testing.T) {
	srv := newTestServer(t, true)

	// Analyze queues a proposal with an attached simulation.
	rr := doJSON(t, srv, http.MethodPost, "/oracle/analyze", map[string]interface{}{
		"jurisdiction": "US",
		"update": map[string]string{
			"title": "Final Rule: Accredited Investor Definition",
			"url":   "https://www.sec.gov/rules/final/2026/33-11234.htm",
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	outcome := decodeBody(t, rr)
	require.Equal(t, "proposal_created", outcome["status"])
	changeID := outcome["change_id"].(string)

	rr = doJSON(t, srv, http.MethodGet, "/oracle/pending", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), decodeBody(t, rr)["count"])

	rr = doJSON(t, srv, http.MethodGet, "/oracle/pending/"+changeID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "pending_review", decodeBody(t, rr)["status"])

	// The impact summary strips casualties but reports their count.
	rr = doJSON(t, srv, http.MethodGet, "/oracle/pending/"+changeID+"/impact", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	impact := decodeBody(t, rr)
	casualtyCount := impact["casualty_count"].(float64)
	assert.Greater(t, casualtyCount, float64(0))

	rr = doJSON(t, srv, http.MethodGet, "/oracle/pending/"+changeID+"/casualties?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decodeBody(t, rr)
	assert.Equal(t, casualtyCount, page["total"])
	casualties := page["casualties"].([]interface{})
	assert.LessOrEqual(t, len(casualties), 5)

	// Approve with immediate apply patches the ruleset.
	rr = doJSON(t, srv, http.MethodPost, "/oracle/pending/"+changeID+"/approve", map[string]interface{}{
		"reviewer":          "alice@rwa-platform.com",
		"apply_immediately": true,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "applied", decodeBody(t, rr)["status"])

	rr = doJSON(t, srv, http.MethodGet, "/oracle/history/US", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	history := decodeBody(t, rr)
	assert.Equal(t, float64(1), history["count"])

	// A second approval of the same change is a review-state violation.
	rr = doJSON(t, srv, http.MethodPost, "/oracle/pending/"+changeID+"/approve", map[string]interface{}{
		"reviewer": "bob@rwa-platform.com",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOracleAnalyzeValidation(t *testing.T) {
	srv := newTestServer(t, true)

	rr := doJSON(t, srv, http.MethodPost, "/oracle/analyze", map[string]interface{}{
		"update": map[string]string{"title": "Final rule"},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "jurisdiction is required")

	rr = doJSON(t, srv, http.MethodPost, "/oracle/analyze", map[string]interface{}{
		"jurisdiction": "US",
		"update":       map[string]string{},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "a title or summary is required")
}

func TestApproveRequiresReviewer(t *testing.T) {
	srv := newTestServer(t, true)

	rr := doJSON(t, srv, http.MethodPost, "/oracle/pending/chg_missing00001/approve", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetPendingNotFound(t *testing.T) {
	srv := newTestServer(t, true)

	rr := doJSON(t, srv, http.MethodGet, "/oracle/pending/chg_missing00001", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSchedulerRunsUnconfigured(t *testing.T) {
	srv := newTestServer(t, false)

	rr := doJSON(t, srv, http.MethodGet, "/scheduler/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = doJSON(t, srv, http.MethodPost, "/scheduler/run", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
