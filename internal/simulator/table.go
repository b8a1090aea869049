package simulator

import "strings"

// probeKind distinguishes threshold comparisons from population-count rules.
type probeKind int

const (
	probeThreshold probeKind = iota
	probeCount
)

// probe maps a rule path onto the investor attribute it governs and the
// subset of investors it applies to.
type probe struct {
	path        string // exact dot path
	kind        probeKind
	description string
	attribute   func(inv Investor) float64
	applies     func(inv Investor) bool
	failureNoun string // e.g. "Income", used in casualty reasons
	remediation string
}

// ruleImpactTable is the minimum modelled set of rule paths. Paths not in the
// table (and not matched by the substring fallback) yield a zero-impact
// result with an advisory warning.
var ruleImpactTable = []probe{
	{
		path:        "accredited_investor_definition.categories.natural_person_income.thresholds.individual_income",
		kind:        probeThreshold,
		description: "Individual income threshold for accreditation",
		attribute:   func(inv Investor) float64 { return inv.Compliance.ReportedIncome },
		applies: func(inv Investor) bool {
			return inv.Classification == "accredited" && inv.Compliance.AccreditationType == "income"
		},
		failureNoun: "Income",
		remediation: "Investor may re-qualify via net worth verification or professional certification",
	},
	{
		path:        "accredited_investor_definition.categories.natural_person_income.thresholds.joint_income",
		kind:        probeThreshold,
		description: "Joint income threshold for accreditation",
		attribute: func(inv Investor) float64 {
			if inv.Compliance.ReportedJointIncome > 0 {
				return inv.Compliance.ReportedJointIncome
			}
			return inv.Compliance.ReportedIncome
		},
		applies: func(inv Investor) bool {
			return inv.Classification == "accredited" && inv.Compliance.AccreditationType == "income"
		},
		failureNoun: "Joint income",
		remediation: "Investor may re-qualify via net worth verification or professional certification",
	},
	{
		path:        "accredited_investor_definition.categories.natural_person_net_worth.thresholds.net_worth",
		kind:        probeThreshold,
		description: "Net worth threshold for accreditation",
		attribute:   func(inv Investor) float64 { return inv.Compliance.NetWorth },
		applies: func(inv Investor) bool {
			return inv.Classification == "accredited" && inv.Compliance.AccreditationType == "net_worth"
		},
		failureNoun: "Net worth",
		remediation: "Investor may re-qualify via income verification or professional certification",
	},
	{
		path:        "qualified_purchaser_definition.categories.natural_person.investments_threshold",
		kind:        probeThreshold,
		description: "Investment threshold for qualified purchaser status",
		attribute:   func(inv Investor) float64 { return inv.Compliance.InvestmentsValue },
		applies:     func(inv Investor) bool { return inv.Classification == "qualified_purchaser" },
		failureNoun: "Investments",
	},
	{
		path:        "qualified_purchaser_definition.categories.entity.investments_threshold",
		kind:        probeThreshold,
		description: "Entity investment threshold for QP status",
		attribute:   func(inv Investor) float64 { return inv.Compliance.InvestmentsValue },
		applies: func(inv Investor) bool {
			return inv.Classification == "qualified_purchaser" && inv.InvestorType == "entity"
		},
		failureNoun: "Investments",
	},
	{
		path:        "exemptions.reg_d_506b.requirements.max_non_accredited_investors",
		kind:        probeCount,
		description: "Maximum non-accredited investors allowed",
		applies:     func(inv Investor) bool { return inv.Classification == "non_accredited" },
		failureNoun: "Non-accredited investor count",
	},
	{
		path:        "transfer_restrictions.rule_144.holding_period_reporting_issuer_days",
		kind:        probeThreshold,
		description: "Holding period for restricted securities",
		attribute:   func(inv Investor) float64 { return float64(inv.Compliance.HoldingPeriodDays) },
		applies:     func(inv Investor) bool { return inv.Compliance.HasRestrictedSecurities },
		failureNoun: "Holding period",
		remediation: "Wait for extended holding period to complete before transfer",
	},
}

// probeFor resolves a field path to a probe: exact table match first, then a
// substring fallback so the reasoner's paths into renamed subtrees still map
// onto the right attribute. Returns nil for unmodelled paths.
func probeFor(fieldPath string) *probe {
	for i := range ruleImpactTable {
		if ruleImpactTable[i].path == fieldPath {
			return &ruleImpactTable[i]
		}
	}

	lower := strings.ToLower(fieldPath)
	var fallbackPath string
	switch {
	case strings.Contains(lower, "joint") && strings.Contains(lower, "income"):
		fallbackPath = "accredited_investor_definition.categories.natural_person_income.thresholds.joint_income"
	case strings.Contains(lower, "income"):
		fallbackPath = "accredited_investor_definition.categories.natural_person_income.thresholds.individual_income"
	case strings.Contains(lower, "net_worth"):
		fallbackPath = "accredited_investor_definition.categories.natural_person_net_worth.thresholds.net_worth"
	case strings.Contains(lower, "qualified_purchaser") && strings.Contains(lower, "entity"):
		fallbackPath = "qualified_purchaser_definition.categories.entity.investments_threshold"
	case strings.Contains(lower, "qualified_purchaser"):
		fallbackPath = "qualified_purchaser_definition.categories.natural_person.investments_threshold"
	case strings.Contains(lower, "max_non_accredited"):
		fallbackPath = "exemptions.reg_d_506b.requirements.max_non_accredited_investors"
	case strings.Contains(lower, "holding_period"):
		fallbackPath = "transfer_restrictions.rule_144.holding_period_reporting_issuer_days"
	default:
		return nil
	}

	for i := range ruleImpactTable {
		if ruleImpactTable[i].path == fallbackPath {
			return &ruleImpactTable[i]
		}
	}
	return nil
}
