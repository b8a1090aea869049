// Package reasoner is the gateway to the external language-model service.
// It is the only place that talks to the model and the only place that knows
// the prompt shapes.
package reasoner

import "strings"

// ConflictType categorizes regulatory conflicts for analytics and auditing.
type ConflictType string

const (
	JurisdictionConflict  ConflictType = "jurisdiction_conflict"
	InvestorLimitConflict ConflictType = "investor_limit_conflict"
	AccreditationConflict ConflictType = "accreditation_conflict"
	LockupConflict        ConflictType = "lockup_conflict"
	DisclosureConflict    ConflictType = "disclosure_conflict"
)

// ChangeProposal is a reasoner-proposed field-level change to a ruleset.
type ChangeProposal struct {
	IsRelevant              bool        `json:"is_relevant"`
	Confidence              float64     `json:"confidence"`
	Summary                 string      `json:"summary"`
	TargetFile              string      `json:"target_file"`
	FieldPath               string      `json:"field_path"`
	OldValue                interface{} `json:"old_value"`
	NewValue                interface{} `json:"new_value"`
	Reasoning               string      `json:"reasoning"`
	SourceText              string      `json:"source_text,omitempty"`
	EffectiveDate           string      `json:"effective_date,omitempty"`
	RequiresImmediateAction bool        `json:"requires_immediate_action"`
}

// JurisdictionResult is the outcome of classifying an investor document.
type JurisdictionResult struct {
	Jurisdiction           string   `json:"jurisdiction"`
	EntityType             string   `json:"entity_type"`
	InvestorClassification string   `json:"investor_classification"`
	ApplicableRegulations  []string `json:"applicable_regulations"`
	Confidence             float64  `json:"confidence"`
	Reasoning              string   `json:"reasoning,omitempty"`
}

// Conflict is a single regulatory conflict between jurisdictions.
type Conflict struct {
	ConflictType  ConflictType `json:"conflict_type"`
	Jurisdictions []string     `json:"jurisdictions"`
	Description   string       `json:"description"`
	RuleA         string       `json:"rule_a"`
	RuleB         string       `json:"rule_b"`
}

// Resolution describes how a conflict should be handled.
type Resolution struct {
	ConflictType        ConflictType `json:"conflict_type"`
	Strategy            string       `json:"strategy"` // apply_strictest, jurisdiction_specific, investor_election, legal_opinion_required
	ResolvedRequirement string       `json:"resolved_requirement"`
	Rationale           string       `json:"rationale"`
}

// ConflictResult is the outcome of cross-jurisdiction conflict resolution.
type ConflictResult struct {
	HasConflicts         bool                   `json:"has_conflicts"`
	Conflicts            []Conflict             `json:"conflicts"`
	Resolutions          []Resolution           `json:"resolutions"`
	CombinedRequirements map[string]interface{} `json:"combined_requirements"`
	Confidence           float64                `json:"confidence"`
	RulesetVersion       string                 `json:"ruleset_version,omitempty"`
}

// TokenRuleViolation flags a proposed token rule that breaks a regulatory
// requirement.
type TokenRuleViolation struct {
	Rule          string `json:"rule"`
	Issue         string `json:"issue"`
	RequiredValue string `json:"required_value"`
	ProposedValue string `json:"proposed_value"`
	Severity      string `json:"severity"` // error or warning
}

// TokenRuleSuggestion recommends an adjustment to a proposed token rule.
type TokenRuleSuggestion struct {
	Rule           string `json:"rule"`
	SuggestedValue string `json:"suggested_value"`
	Rationale      string `json:"rationale"`
}

// TokenValidationResult is the outcome of validating proposed token rules.
type TokenValidationResult struct {
	Valid       bool                  `json:"valid"`
	Violations  []TokenRuleViolation  `json:"violations"`
	Suggestions []TokenRuleSuggestion `json:"suggestions"`
	Confidence  float64               `json:"confidence"`
}

// classifyConflictType maps a free-form conflict label from the model onto a
// typed category.
func classifyConflictType(s string) ConflictType {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "jurisdiction"):
		return JurisdictionConflict
	case strings.Contains(lower, "investor") && (strings.Contains(lower, "limit") || strings.Contains(lower, "cap")):
		return InvestorLimitConflict
	case strings.Contains(lower, "accredit"):
		return AccreditationConflict
	case strings.Contains(lower, "lockup") || strings.Contains(lower, "holding"):
		return LockupConflict
	case strings.Contains(lower, "disclosure") || strings.Contains(lower, "document"):
		return DisclosureConflict
	default:
		return JurisdictionConflict
	}
}
