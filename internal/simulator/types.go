// Package simulator runs proposed rule changes against the investor
// population before anyone approves them, answering "who does this affect?".
package simulator

// Severity is the coarse categorization of simulation impact.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"      // < 1% affected
	SeverityMedium   Severity = "medium"   // 1-5% affected
	SeverityHigh     Severity = "high"     // 5-15% affected
	SeverityCritical Severity = "critical" // >= 15% affected
)

// GrandfatheringStrategy is the recommended policy for existing
// non-compliant holdings after a rule tightens.
type GrandfatheringStrategy string

const (
	GrandfatherNone             GrandfatheringStrategy = "none"
	GrandfatherFull             GrandfatheringStrategy = "full"
	GrandfatherTimeLimited      GrandfatheringStrategy = "time_limited"
	GrandfatherTransactionBased GrandfatheringStrategy = "transaction_based"
	GrandfatherHoldingsFrozen   GrandfatheringStrategy = "holdings_frozen"
)

// Compliance holds the investor attributes the rule probes read.
type Compliance struct {
	AccreditationType       string  `json:"accreditationType,omitempty"`
	ReportedIncome          float64 `json:"reportedIncome"`
	ReportedJointIncome     float64 `json:"reportedJointIncome"`
	NetWorth                float64 `json:"netWorth"`
	InvestmentsValue        float64 `json:"investmentsValue"`
	HoldingPeriodDays       int     `json:"holdingPeriodDays"`
	HasRestrictedSecurities bool    `json:"hasRestrictedSecurities"`
}

// TokenHolding is one token position in an investor's portfolio.
type TokenHolding struct {
	TokenID  string  `json:"tokenId"`
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name,omitempty"`
	ValueUSD float64 `json:"valueUsd"`
}

// Holdings is an investor's portfolio snapshot.
type Holdings struct {
	TotalValueUSD float64        `json:"totalValueUsd"`
	Tokens        []TokenHolding `json:"tokens"`
}

// Investor is one record from the platform's investor service.
type Investor struct {
	ID             string     `json:"id"`
	FullName       string     `json:"fullName"`
	WalletAddress  string     `json:"walletAddress"`
	Jurisdiction   string     `json:"jurisdiction"`
	Classification string     `json:"classification"`
	InvestorType   string     `json:"investorType"`
	KYCStatus      string     `json:"kycStatus"`
	Compliance     Compliance `json:"compliance"`
	Holdings       Holdings   `json:"holdings"`
}

// Casualty is an investor who would become non-compliant under new rules.
type Casualty struct {
	InvestorID     string      `json:"investor_id"`
	InvestorName   string      `json:"investor_name"`
	WalletAddress  string      `json:"wallet_address"`
	Jurisdiction   string      `json:"jurisdiction"`
	Classification string      `json:"classification"`
	FailureReason  string      `json:"failure_reason"`
	FailedRulePath string      `json:"failed_rule_path"`
	CurrentValue   interface{} `json:"current_value"`
	NewThreshold   interface{} `json:"new_threshold"`

	TotalHoldingsUSD float64  `json:"total_holdings_usd"`
	TokensHeld       []string `json:"tokens_held"`

	RemediationPath    string `json:"remediation_path,omitempty"`
	CanBeGrandfathered bool   `json:"can_be_grandfathered"`
}

// TokenImpact summarizes the impact on one token's investor base.
type TokenImpact struct {
	TokenID            string  `json:"token_id"`
	TokenSymbol        string  `json:"token_symbol"`
	TokenName          string  `json:"token_name"`
	InvestorsAffected  int     `json:"investors_affected"`
	TotalInvestors     int     `json:"total_investors"`
	PercentageAffected float64 `json:"percentage_affected"`
	ValueAtRiskUSD     float64 `json:"value_at_risk_usd"`
	TotalTokenValueUSD float64 `json:"total_token_value_usd"`
}

// Result is the complete outcome of an impact simulation.
type Result struct {
	SimulationID      string `json:"simulation_id"`
	ProposalID        string `json:"proposal_id"`
	SimulatedAt       string `json:"simulated_at"`
	RuleChangeSummary string `json:"rule_change_summary"`

	TotalInvestorsChecked int      `json:"total_investors_checked"`
	ImpactedCount         int      `json:"impacted_count"`
	ImpactPercentage      float64  `json:"impact_percentage"`
	Severity              Severity `json:"severity"`

	TotalAssetsAtRiskUSD   float64 `json:"total_assets_at_risk_usd"`
	TotalPlatformAssetsUSD float64 `json:"total_platform_assets_usd"`
	AssetsAtRiskPercentage float64 `json:"assets_at_risk_percentage"`

	Casualties           []Casualty     `json:"casualties"`
	TokensImpacted       []TokenImpact  `json:"tokens_impacted"`
	ImpactByJurisdiction map[string]int `json:"impact_by_jurisdiction"`

	RecommendedGrandfathering       GrandfatheringStrategy `json:"recommended_grandfathering"`
	GrandfatheringRationale         string                 `json:"grandfathering_rationale"`
	EstimatedComplianceTimelineDays int                    `json:"estimated_compliance_timeline_days"`

	RequiresManualReview bool     `json:"requires_manual_review,omitempty"`
	Warnings             []string `json:"warnings"`
}
