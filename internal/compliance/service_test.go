package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
)

type fakeReasoner struct {
	classification *reasoner.JurisdictionResult
	classifyErr    error
	resolution     *reasoner.ConflictResult
	resolveErr     error
	validation     *reasoner.TokenValidationResult
	validateErr    error
}

func (f *fakeReasoner) ClassifyJurisdiction(ctx context.Context, documentText, documentType string) (*reasoner.JurisdictionResult, error) {
	return f.classification, f.classifyErr
}

func (f *fakeReasoner) ResolveConflicts(ctx context.Context, jurisdictions []string, assetType string, investorTypes []string, regulatoryContext, rulesetVersion string) (*reasoner.ConflictResult, error) {
	return f.resolution, f.resolveErr
}

func (f *fakeReasoner) ValidateTokenCompliance(ctx context.Context, tokenRules reasoner.TokenRules, regulatoryContext string) (*reasoner.TokenValidationResult, error) {
	return f.validation, f.validateErr
}

func newRulesStore(t *testing.T) *rules.Store {
	t.Helper()
	store, err := rules.NewStore(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestClassifyDocumentUsesReasoner(t *testing.T) {
	client := &fakeReasoner{classification: &reasoner.JurisdictionResult{
		Jurisdiction:           "US",
		EntityType:             "entity",
		InvestorClassification: "accredited",
		Confidence:             0.92,
	}}
	svc := New(client, newRulesStore(t), 0.7, zerolog.Nop())

	result, err := svc.ClassifyDocument(context.Background(), "Delaware LLC subscription agreement", "legal_document")
	require.NoError(t, err)
	assert.Equal(t, "US", result.Jurisdiction)
	assert.False(t, result.RequiresManualReview)
}

func TestClassifyDocumentManualReviewThreshold(t *testing.T) {
	client := &fakeReasoner{classification: &reasoner.JurisdictionResult{Jurisdiction: "SG", Confidence: 0.65}}
	svc := New(client, newRulesStore(t), 0.7, zerolog.Nop())

	result, err := svc.ClassifyDocument(context.Background(), "...", "legal_document")
	require.NoError(t, err)
	assert.True(t, result.RequiresManualReview, "confidence below the threshold flags manual review")

	client.classification.Confidence = 0.7
	result, err = svc.ClassifyDocument(context.Background(), "...", "legal_document")
	require.NoError(t, err)
	assert.False(t, result.RequiresManualReview, "the threshold itself passes")
}

func TestClassifyDocumentHeuristicFallback(t *testing.T) {
	svc := New(&fakeReasoner{classifyErr: errors.New("model timeout")}, newRulesStore(t), 0.7, zerolog.Nop())

	cases := []struct {
		text string
		want string
	}{
		{"Filed with the Securities and Exchange Commission under Regulation D", "US"},
		{"Licensed by the Monetary Authority of Singapore", "SG"},
		{"Prospectus prepared in accordance with MiFID II", "EU"},
		{"Authorised by the Financial Conduct Authority", "GB"},
		{"General partnership agreement", "UNKNOWN"},
	}
	for _, c := range cases {
		result, err := svc.ClassifyDocument(context.Background(), c.text, "legal_document")
		require.NoError(t, err)
		assert.Equalf(t, c.want, result.Jurisdiction, "text %q", c.text)
		assert.True(t, result.RequiresManualReview, "heuristic results always require review")
		assert.Equal(t, 0.3, result.Confidence)
	}
}

func TestClassifyDocumentNilReasoner(t *testing.T) {
	svc := New(nil, newRulesStore(t), 0.7, zerolog.Nop())

	result, err := svc.ClassifyDocument(context.Background(), "Offering in the United States", "legal_document")
	require.NoError(t, err)
	assert.Equal(t, "US", result.Jurisdiction)
	assert.True(t, result.RequiresManualReview)
}

func TestResolveConflictsUsesReasoner(t *testing.T) {
	client := &fakeReasoner{resolution: &reasoner.ConflictResult{
		HasConflicts: true,
		Confidence:   0.88,
	}}
	svc := New(client, newRulesStore(t), 0.7, zerolog.Nop())

	result, err := svc.ResolveConflicts(context.Background(), []string{"US", "SG"}, "real_estate", []string{"accredited"})
	require.NoError(t, err)
	assert.False(t, result.IsFallback)
	assert.Equal(t, 0.88, result.Confidence)
	assert.Equal(t, "unknown", result.RulesetVersion, "version is stamped even when the reasoner omits it")
}

func TestResolveConflictsStrictestFallback(t *testing.T) {
	client := &fakeReasoner{resolveErr: errors.New("rate limited")}
	svc := New(client, newRulesStore(t), 0.7, zerolog.Nop())

	result, err := svc.ResolveConflicts(context.Background(), []string{"US", "SG"}, "real_estate", []string{"accredited", "retail"})
	require.NoError(t, err, "fallback is a degraded answer, not an error")
	assert.True(t, result.IsFallback)
	assert.Equal(t, 0.3, result.Confidence)

	require.Len(t, result.Resolutions, 1)
	assert.Equal(t, "apply_strictest", result.Resolutions[0].Strategy)
	assert.Equal(t, reasoner.JurisdictionConflict, result.Resolutions[0].ConflictType)

	combined := result.CombinedRequirements
	assert.Equal(t, true, combined["accredited_only"])
	assert.Equal(t, 35, combined["max_investors"])
	assert.Equal(t, 365, combined["lockup_days"])
	assert.Equal(t, true, combined["requires_manual_review"])
}

func TestResolveConflictsNilReasonerFallsBack(t *testing.T) {
	svc := New(nil, newRulesStore(t), 0.7, zerolog.Nop())

	result, err := svc.ResolveConflicts(context.Background(), []string{"US", "EU"}, "real_estate", []string{"accredited"})
	require.NoError(t, err)
	assert.True(t, result.IsFallback)
}

func TestValidateToken(t *testing.T) {
	client := &fakeReasoner{validation: &reasoner.TokenValidationResult{Valid: true, Confidence: 0.9}}
	svc := New(client, newRulesStore(t), 0.7, zerolog.Nop())

	result, err := svc.ValidateToken(context.Background(), "US", reasoner.TokenRules{})
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestValidateTokenNilReasonerErrors(t *testing.T) {
	svc := New(nil, newRulesStore(t), 0.7, zerolog.Nop())

	_, err := svc.ValidateToken(context.Background(), "US", reasoner.TokenRules{})
	assert.ErrorIs(t, err, errReasonerUnavailable, "validation has no deterministic fallback")
}

func TestConfidenceThresholdDefault(t *testing.T) {
	svc := New(nil, newRulesStore(t), 0, zerolog.Nop())
	assert.Equal(t, 0.7, svc.ConfidenceThreshold())

	svc = New(nil, newRulesStore(t), 0.85, zerolog.Nop())
	assert.Equal(t, 0.85, svc.ConfidenceThreshold())
}
