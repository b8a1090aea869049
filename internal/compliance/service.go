// Package compliance exposes the reasoner-backed compliance operations:
// document classification, cross-jurisdiction conflict resolution, and token
// rule validation. Every operation degrades to a conservative deterministic
// fallback when the reasoner is unavailable.
package compliance

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
	"github.com/rwa-platform/compliance-oracle/internal/rules"
)

// errReasonerUnavailable forces the fallback path when no reasoner client is
// configured.
var errReasonerUnavailable = errors.New("reasoner is not configured")

// reasonerClient is the reasoner surface this service needs.
type reasonerClient interface {
	ClassifyJurisdiction(ctx context.Context, documentText, documentType string) (*reasoner.JurisdictionResult, error)
	ResolveConflicts(ctx context.Context, jurisdictions []string, assetType string, investorTypes []string, regulatoryContext, rulesetVersion string) (*reasoner.ConflictResult, error)
	ValidateTokenCompliance(ctx context.Context, tokenRules reasoner.TokenRules, regulatoryContext string) (*reasoner.TokenValidationResult, error)
}

// Classification is a jurisdiction classification plus the review flag the
// confidence threshold derives.
type Classification struct {
	reasoner.JurisdictionResult
	RequiresManualReview bool `json:"requires_manual_review"`
}

// Resolution is a conflict resolution, flagged when it came from the
// strictest-rule fallback rather than the reasoner.
type Resolution struct {
	reasoner.ConflictResult
	IsFallback bool `json:"is_fallback,omitempty"`
}

// Service implements the compliance operations over the reasoner and the
// ruleset store.
type Service struct {
	reasoner            reasonerClient
	rules               *rules.Store
	confidenceThreshold float64
	log                 zerolog.Logger
}

// New creates a compliance service. The confidence threshold defaults to 0.7.
func New(client reasonerClient, store *rules.Store, confidenceThreshold float64, log zerolog.Logger) *Service {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.7
	}
	return &Service{
		reasoner:            client,
		rules:               store,
		confidenceThreshold: confidenceThreshold,
		log:                 log.With().Str("component", "compliance").Logger(),
	}
}

// ClassifyDocument determines the governing jurisdiction and investor
// classification for a legal document. Reasoner failures fall back to a
// keyword heuristic at low confidence, which always requires manual review.
func (s *Service) ClassifyDocument(ctx context.Context, documentText, documentType string) (*Classification, error) {
	var result *reasoner.JurisdictionResult
	var err error
	if s.reasoner != nil {
		result, err = s.reasoner.ClassifyJurisdiction(ctx, documentText, documentType)
	} else {
		err = errReasonerUnavailable
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Reasoner classification failed, using keyword heuristic")
		result = heuristicClassification(documentText)
	}

	return &Classification{
		JurisdictionResult:   *result,
		RequiresManualReview: result.Confidence < s.confidenceThreshold,
	}, nil
}

// ResolveConflicts asks the reasoner to reconcile requirements across
// jurisdictions for one offering. When the reasoner is unavailable the
// strictest-rule fallback applies.
func (s *Service) ResolveConflicts(ctx context.Context, jurisdictions []string, assetType string, investorTypes []string) (*Resolution, error) {
	regulatoryContext := s.rules.Context(jurisdictions)
	version := s.rules.VersionString(jurisdictions)

	var result *reasoner.ConflictResult
	var err error
	if s.reasoner != nil {
		result, err = s.reasoner.ResolveConflicts(ctx, jurisdictions, assetType, investorTypes, regulatoryContext, version)
	} else {
		err = errReasonerUnavailable
	}
	if err != nil {
		s.log.Warn().Err(err).Strs("jurisdictions", jurisdictions).Msg("Reasoner conflict resolution failed, applying strictest-rule fallback")
		fallback := strictestFallback(jurisdictions)
		fallback.RulesetVersion = version
		return &Resolution{ConflictResult: *fallback, IsFallback: true}, nil
	}

	if result.RulesetVersion == "" {
		result.RulesetVersion = version
	}
	return &Resolution{ConflictResult: *result}, nil
}

// ValidateToken checks proposed token transfer rules against the
// jurisdiction's regulatory requirements.
func (s *Service) ValidateToken(ctx context.Context, jurisdiction string, tokenRules reasoner.TokenRules) (*reasoner.TokenValidationResult, error) {
	if s.reasoner == nil {
		return nil, errReasonerUnavailable
	}
	regulatoryContext := s.rules.Context([]string{jurisdiction})
	return s.reasoner.ValidateTokenCompliance(ctx, tokenRules, regulatoryContext)
}

// ConfidenceThreshold reports the manual-review cutoff in use.
func (s *Service) ConfidenceThreshold() float64 {
	return s.confidenceThreshold
}

// heuristicClassification scans for jurisdiction markers when the reasoner
// is down. Confidence is fixed low so callers always get the review flag.
func heuristicClassification(documentText string) *reasoner.JurisdictionResult {
	text := strings.ToLower(documentText)

	jurisdiction := "UNKNOWN"
	switch {
	case strings.Contains(text, "securities and exchange commission"),
		strings.Contains(text, "regulation d"),
		strings.Contains(text, "united states"),
		strings.Contains(text, "delaware"):
		jurisdiction = "US"
	case strings.Contains(text, "monetary authority of singapore"),
		strings.Contains(text, "singapore"):
		jurisdiction = "SG"
	case strings.Contains(text, "mifid"),
		strings.Contains(text, "european union"),
		strings.Contains(text, "esma"):
		jurisdiction = "EU"
	case strings.Contains(text, "financial conduct authority"),
		strings.Contains(text, "united kingdom"):
		jurisdiction = "GB"
	}

	return &reasoner.JurisdictionResult{
		Jurisdiction:           jurisdiction,
		EntityType:             "individual",
		InvestorClassification: "retail",
		Confidence:             0.3,
		Reasoning:              "Keyword heuristic; reasoner unavailable",
	}
}

// strictestFallback combines the most restrictive requirements of the named
// jurisdictions without reasoner input.
func strictestFallback(jurisdictions []string) *reasoner.ConflictResult {
	return &reasoner.ConflictResult{
		HasConflicts: true,
		Conflicts:    []reasoner.Conflict{},
		Resolutions: []reasoner.Resolution{
			{
				ConflictType:        reasoner.JurisdictionConflict,
				Strategy:            "apply_strictest",
				ResolvedRequirement: "Apply the most restrictive requirement from " + strings.Join(jurisdictions, ", "),
				Rationale:           "Reasoner unavailable; the strictest rule across jurisdictions is always compliant in each",
			},
		},
		CombinedRequirements: map[string]interface{}{
			"accredited_only":        true,
			"min_investment":         100000,
			"max_investors":          35,
			"lockup_days":            365,
			"required_disclosures":   []string{"offering_memorandum", "risk_factors", "financial_statements"},
			"requires_manual_review": true,
		},
		Confidence: 0.3,
	}
}
