package simulator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rwa-platform/compliance-oracle/internal/reasoner"
)

// Simulator runs proposed rule changes against the investor population.
type Simulator struct {
	investors *InvestorClient
	log       zerolog.Logger
}

// New creates a simulator. The investor client may be nil, in which case
// every simulation uses the synthetic population.
func New(investors *InvestorClient, log zerolog.Logger) *Simulator {
	return &Simulator{
		investors: investors,
		log:       log.With().Str("component", "impact_simulator").Logger(),
	}
}

// SimulateChange runs the proposed change as a dry-run and reports
// casualties, financial exposure, severity, and a recommended grandfathering
// strategy. With useMock, or when the investor service is unavailable, a
// deterministic synthetic population is used and the result carries a
// degraded-data warning.
func (s *Simulator) SimulateChange(ctx context.Context, proposal *reasoner.ChangeProposal, proposalID string, useMock bool) (*Result, error) {
	now := time.Now()
	simulationID := fmt.Sprintf("sim_%s_%s", now.Format("20060102_150405"), truncatePath(proposal.FieldPath, 20))

	s.log.Info().
		Str("simulation_id", simulationID).
		Str("field", proposal.FieldPath).
		Interface("old_value", proposal.OldValue).
		Interface("new_value", proposal.NewValue).
		Msg("Starting impact simulation")

	var (
		investors      []Investor
		platformAssets float64
		warnings       []string
	)

	if useMock || s.investors == nil {
		investors = generateMockInvestors(proposal.FieldPath, proposal.OldValue, proposal.NewValue)
		platformAssets = defaultPlatformAssetsUSD
	} else {
		live, err := s.investors.FetchInvestors(ctx, jurisdictionFromTargetFile(proposal.TargetFile), nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("Investor service unavailable, falling back to synthetic population")
			investors = generateMockInvestors(proposal.FieldPath, proposal.OldValue, proposal.NewValue)
			platformAssets = defaultPlatformAssetsUSD
			warnings = append(warnings, "DEGRADED DATA: investor service unavailable; results are based on a synthetic population and must not be used for final sign-off.")
		} else {
			investors = live
			platformAssets = s.investors.FetchPlatformAssets(ctx)
		}
	}

	result := &Result{
		SimulationID:           simulationID,
		ProposalID:             proposalID,
		SimulatedAt:            now.Format(time.RFC3339),
		RuleChangeSummary:      fmt.Sprintf("%s: %v -> %v", proposal.FieldPath, proposal.OldValue, proposal.NewValue),
		TotalInvestorsChecked:  len(investors),
		TotalPlatformAssetsUSD: round2(platformAssets),
		Severity:               SeverityNone,
		ImpactByJurisdiction:   map[string]int{},
		Casualties:             []Casualty{},
		TokensImpacted:         []TokenImpact{},
		Warnings:               warnings,
	}

	p := probeFor(proposal.FieldPath)
	if p == nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("UNMODELLED RULE: no impact model exists for path %q; impact shown as zero, manual assessment required.", proposal.FieldPath))
		result.RecommendedGrandfathering = GrandfatherNone
		result.GrandfatheringRationale = "No investors affected; no grandfathering needed"
		return result, nil
	}

	newThreshold, numeric := toFloat(proposal.NewValue)
	if !numeric {
		result.RequiresManualReview = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("NON-NUMERIC CHANGE: proposed value %v for %s cannot be evaluated automatically; manual review required.", proposal.NewValue, p.description))
		result.RecommendedGrandfathering = GrandfatherNone
		result.GrandfatheringRationale = "No investors affected; no grandfathering needed"
		return result, nil
	}

	scoped := filterByJurisdiction(investors, proposal.TargetFile)
	casualties, tokenImpacts := s.runComplianceCheck(p, scoped, proposal.FieldPath, newThreshold)

	result.Casualties = casualties
	result.TokensImpacted = tokenImpacts
	result.ImpactedCount = len(casualties)
	if result.TotalInvestorsChecked > 0 {
		result.ImpactPercentage = round2(float64(result.ImpactedCount) / float64(result.TotalInvestorsChecked) * 100)
	}

	var assetsAtRisk float64
	for _, c := range casualties {
		assetsAtRisk += c.TotalHoldingsUSD
		result.ImpactByJurisdiction[c.Jurisdiction]++
	}
	result.TotalAssetsAtRiskUSD = round2(assetsAtRisk)
	if platformAssets > 0 {
		result.AssetsAtRiskPercentage = round2(assetsAtRisk / platformAssets * 100)
	}

	result.Severity = CalculateSeverity(result.ImpactPercentage, result.AssetsAtRiskPercentage)
	result.RecommendedGrandfathering, result.GrandfatheringRationale = recommendGrandfathering(
		result.ImpactedCount, result.ImpactPercentage, result.AssetsAtRiskPercentage)
	result.EstimatedComplianceTimelineDays = estimateTimeline(proposal, result.ImpactedCount)
	result.Warnings = append(result.Warnings, generateWarnings(proposal, casualties, result.Severity, result.ImpactByJurisdiction)...)

	s.log.Info().
		Int("impacted", result.ImpactedCount).
		Int("checked", result.TotalInvestorsChecked).
		Float64("assets_at_risk_usd", result.TotalAssetsAtRiskUSD).
		Str("severity", string(result.Severity)).
		Msg("Simulation complete")

	return result, nil
}

// runComplianceCheck evaluates every investor against the probe and returns
// casualties in input order, keeping re-simulation deterministic.
func (s *Simulator) runComplianceCheck(p *probe, investors []Investor, fieldPath string, newThreshold float64) ([]Casualty, []TokenImpact) {
	casualties := []Casualty{}
	tokenOrder := []string{}
	tokenImpactMap := map[string]*TokenImpact{}

	recordTokens := func(holdings Holdings) {
		for _, token := range holdings.Tokens {
			impact, ok := tokenImpactMap[token.TokenID]
			if !ok {
				impact = &TokenImpact{
					TokenID:     token.TokenID,
					TokenSymbol: token.Symbol,
					TokenName:   token.Name,
				}
				if impact.TokenName == "" {
					impact.TokenName = "Token " + token.TokenID
				}
				tokenImpactMap[token.TokenID] = impact
				tokenOrder = append(tokenOrder, token.TokenID)
			}
			impact.InvestorsAffected++
			valueAtRisk := token.ValueUSD
			if valueAtRisk == 0 && len(holdings.Tokens) > 0 {
				valueAtRisk = holdings.TotalValueUSD / float64(len(holdings.Tokens))
			}
			impact.ValueAtRiskUSD += valueAtRisk
		}
	}

	if p.kind == probeCount {
		// Count rules produce a single aggregate casualty when the governed
		// population exceeds the new cap.
		limit := int(newThreshold)
		var governed []Investor
		for _, inv := range investors {
			if p.applies(inv) {
				governed = append(governed, inv)
			}
		}
		if len(governed) > limit {
			excess := governed[limit:]
			var holdingsUSD float64
			for _, inv := range excess {
				holdingsUSD += inv.Holdings.TotalValueUSD
				recordTokens(inv.Holdings)
			}
			casualties = append(casualties, Casualty{
				InvestorID:     "aggregate",
				InvestorName:   fmt.Sprintf("%d investors over cap", len(excess)),
				Jurisdiction:   "US",
				Classification: "non_accredited",
				FailureReason: fmt.Sprintf("%s %d exceeds new cap of %d; %d positions would be non-compliant",
					p.failureNoun, len(governed), limit, len(excess)),
				FailedRulePath:     fieldPath,
				CurrentValue:       len(governed),
				NewThreshold:       limit,
				TotalHoldingsUSD:   holdingsUSD,
				TokensHeld:         tokensOf(excess),
				CanBeGrandfathered: true,
			})
		}
	} else {
		for _, inv := range investors {
			if !p.applies(inv) {
				continue
			}
			current := p.attribute(inv)
			if current >= newThreshold {
				continue
			}

			casualties = append(casualties, Casualty{
				InvestorID:     inv.ID,
				InvestorName:   inv.FullName,
				WalletAddress:  inv.WalletAddress,
				Jurisdiction:   inv.Jurisdiction,
				Classification: inv.Classification,
				FailureReason: fmt.Sprintf("%s %s below new threshold %s",
					p.failureNoun, formatAmount(p, current), formatAmount(p, newThreshold)),
				FailedRulePath:     fieldPath,
				CurrentValue:       current,
				NewThreshold:       newThreshold,
				TotalHoldingsUSD:   inv.Holdings.TotalValueUSD,
				TokensHeld:         tokensOf([]Investor{inv}),
				RemediationPath:    p.remediation,
				CanBeGrandfathered: true,
			})
			recordTokens(inv.Holdings)
		}
	}

	tokenImpacts := make([]TokenImpact, 0, len(tokenOrder))
	for _, id := range tokenOrder {
		impact := *tokenImpactMap[id]
		impact.ValueAtRiskUSD = round2(impact.ValueAtRiskUSD)
		if impact.TotalInvestors == 0 {
			impact.TotalInvestors = impact.InvestorsAffected
		}
		if impact.TotalTokenValueUSD == 0 {
			impact.TotalTokenValueUSD = impact.ValueAtRiskUSD
		}
		impact.PercentageAffected = round2(float64(impact.InvestorsAffected) / float64(impact.TotalInvestors) * 100)
		tokenImpacts = append(tokenImpacts, impact)
	}

	return casualties, tokenImpacts
}

// CalculateSeverity buckets the worse of the two impact percentages.
func CalculateSeverity(impactPct, assetsPct float64) Severity {
	maxImpact := math.Max(impactPct, assetsPct)
	switch {
	case maxImpact == 0:
		return SeverityNone
	case maxImpact < 1:
		return SeverityLow
	case maxImpact < 5:
		return SeverityMedium
	case maxImpact < 15:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// recommendGrandfathering picks a strategy by impact magnitude.
func recommendGrandfathering(impactedCount int, impactPct, assetsPct float64) (GrandfatheringStrategy, string) {
	if impactedCount == 0 {
		return GrandfatherNone, "No investors affected; no grandfathering needed"
	}

	if impactPct > 15 || assetsPct > 20 {
		return GrandfatherFull, fmt.Sprintf(
			"Critical impact (%.1f%% of investors, %.1f%% of assets). Recommend full grandfathering to avoid mass non-compliance and potential legal exposure.",
			impactPct, assetsPct)
	}

	if impactPct > 5 || assetsPct > 10 {
		return GrandfatherTimeLimited, fmt.Sprintf(
			"High impact (%.1f%% of investors). Recommend time-limited grandfathering with 12-month grace period for re-qualification.",
			impactPct)
	}

	if impactPct > 1 {
		return GrandfatherTransactionBased, fmt.Sprintf(
			"Moderate impact (%.1f%% of investors). Recommend transaction-based grandfathering: existing holdings protected, new purchases require compliance.",
			impactPct)
	}

	return GrandfatherHoldingsFrozen, fmt.Sprintf(
		"Low impact (%.1f%% of investors). Recommend frozen holdings: affected investors cannot add positions but can exit freely.",
		impactPct)
}

// estimateTimeline estimates days for affected investors to reach
// compliance. Holding-period changes take the new period itself.
func estimateTimeline(proposal *reasoner.ChangeProposal, impactedCount int) int {
	if impactedCount == 0 {
		return 0
	}

	if strings.Contains(strings.ToLower(proposal.FieldPath), "holding_period") {
		if days, ok := toFloat(proposal.NewValue); ok {
			return int(days)
		}
		return 365
	}

	switch {
	case impactedCount < 10:
		return 30
	case impactedCount < 50:
		return 60
	case impactedCount < 200:
		return 90
	default:
		return 180
	}
}

// generateWarnings produces advisory strings for the compliance officer.
func generateWarnings(proposal *reasoner.ChangeProposal, casualties []Casualty, severity Severity, byJurisdiction map[string]int) []string {
	var warnings []string

	if severity == SeverityHigh || severity == SeverityCritical {
		warnings = append(warnings, fmt.Sprintf(
			"CRITICAL: This change affects %d investors. Consider phased rollout or extended grandfathering.",
			len(casualties)))
	}

	var highValueCount int
	var highValueTotal float64
	for _, c := range casualties {
		if c.TotalHoldingsUSD > 1_000_000 {
			highValueCount++
			highValueTotal += c.TotalHoldingsUSD
		}
	}
	if highValueCount > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"HIGH VALUE ALERT: %d affected investors hold > $1M each. Combined value at risk: $%.0f",
			highValueCount, highValueTotal))
	}

	jurisdictions := make([]string, 0, len(byJurisdiction))
	for jur := range byJurisdiction {
		jurisdictions = append(jurisdictions, jur)
	}
	sort.Strings(jurisdictions)
	for _, jur := range jurisdictions {
		count := byJurisdiction[jur]
		if float64(count) > float64(len(casualties))*0.5 && count > 10 {
			warnings = append(warnings, fmt.Sprintf(
				"CONCENTRATION: %d of %d casualties (%.0f%%) are in %s. Consider jurisdiction-specific transition.",
				count, len(casualties), float64(count)/float64(len(casualties))*100, jur))
		}
	}

	if proposal.RequiresImmediateAction {
		warnings = append(warnings,
			"REGULATORY MANDATE: This change requires immediate action. Standard grandfathering may not be permissible.")
	}

	return warnings
}

// filterByJurisdiction scopes the population by the proposal's target
// document prefix.
func filterByJurisdiction(investors []Investor, targetFile string) []Investor {
	target := strings.ToLower(targetFile)
	var want string
	switch {
	case strings.HasPrefix(target, "us_"):
		want = "US"
	case strings.HasPrefix(target, "sg_"):
		want = "SG"
	default:
		return investors
	}

	var scoped []Investor
	for _, inv := range investors {
		if inv.Jurisdiction == want {
			scoped = append(scoped, inv)
		}
	}
	return scoped
}

// jurisdictionFromTargetFile derives the fetch filter from the document name.
func jurisdictionFromTargetFile(targetFile string) string {
	target := strings.ToLower(targetFile)
	switch {
	case strings.HasPrefix(target, "us_"), target == "":
		return "US"
	case strings.HasPrefix(target, "sg_"):
		return "SG"
	default:
		return ""
	}
}

// formatAmount renders thresholds as dollars except for day-denominated
// probes.
func formatAmount(p *probe, v float64) string {
	if strings.Contains(strings.ToLower(p.path), "holding_period") {
		return fmt.Sprintf("%d days", int(v))
	}
	return fmt.Sprintf("$%.0f", v)
}

func tokensOf(investors []Investor) []string {
	seen := map[string]bool{}
	var out []string
	for _, inv := range investors {
		for _, t := range inv.Holdings.Tokens {
			symbol := t.Symbol
			if symbol == "" {
				symbol = t.TokenID
			}
			if symbol != "" && !seen[symbol] {
				seen[symbol] = true
				out = append(out, symbol)
			}
		}
	}
	return out
}

func truncatePath(path string, n int) string {
	if len(path) <= n {
		return path
	}
	return path[:n]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
