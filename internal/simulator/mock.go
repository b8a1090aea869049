package simulator

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// mockPopulationSize is the size of the synthetic population used when live
// investor data is unavailable.
const mockPopulationSize = 150

// mockSeed derives a deterministic seed from the proposal content, so
// re-simulating the same proposal yields an identical population.
func mockSeed(fieldPath string, oldValue, newValue interface{}) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%v|%v", fieldPath, oldValue, newValue)
	return int64(h.Sum64())
}

// generateMockInvestors builds a synthetic population stratified around the
// old and new thresholds: 40 well above the new threshold, 40 in the danger
// zone between old and new, 40 at the old threshold, 30 non-accredited.
func generateMockInvestors(fieldPath string, oldValue, newValue interface{}) []Investor {
	rng := rand.New(rand.NewSource(mockSeed(fieldPath, oldValue, newValue)))

	oldThreshold, ok := toFloat(oldValue)
	if !ok {
		oldThreshold = 200000
	}
	newThreshold, ok := toFloat(newValue)
	if !ok {
		newThreshold = 250000
	}

	jurisdictions := []string{"US", "US", "US", "SG", "UK"}
	investorTypes := []string{"individual", "individual", "entity", "trust"}

	investors := make([]Investor, 0, mockPopulationSize)
	for i := 0; i < mockPopulationSize; i++ {
		var income float64
		switch {
		case i < 40:
			income = uniform(rng, newThreshold*1.2, newThreshold*3)
		case i < 80:
			income = uniform(rng, oldThreshold, newThreshold)
		case i < 120:
			income = uniform(rng, oldThreshold*0.95, oldThreshold*1.1)
		default:
			income = uniform(rng, 50000, oldThreshold*0.9)
		}

		holdings := uniform(rng, 10000, 500000)
		netWorth := income * uniform(rng, 3, 10)

		classification := "non_accredited"
		accreditationType := ""
		if income >= oldThreshold {
			classification = "accredited"
			accreditationType = "income"
		}

		tokenNum := rng.Intn(5) + 1
		investors = append(investors, Investor{
			ID:             fmt.Sprintf("inv_%04d", i),
			FullName:       fmt.Sprintf("Investor %d", i),
			WalletAddress:  fmt.Sprintf("0x%040x", i),
			Jurisdiction:   jurisdictions[rng.Intn(len(jurisdictions))],
			Classification: classification,
			InvestorType:   investorTypes[rng.Intn(len(investorTypes))],
			KYCStatus:      "approved",
			Compliance: Compliance{
				AccreditationType:       accreditationType,
				ReportedIncome:          income,
				ReportedJointIncome:     income * uniform(rng, 1.2, 1.8),
				NetWorth:                netWorth,
				InvestmentsValue:        netWorth * 0.8,
				HoldingPeriodDays:       rng.Intn(400),
				HasRestrictedSecurities: i%2 == 0,
			},
			Holdings: Holdings{
				TotalValueUSD: holdings,
				Tokens: []TokenHolding{
					{
						TokenID:  fmt.Sprintf("tkn_%d", tokenNum),
						Symbol:   fmt.Sprintf("RWA%d", tokenNum),
						ValueUSD: holdings,
					},
				},
			},
		})
	}

	return investors
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + rng.Float64()*(hi-lo)
}

// toFloat coerces JSON scalar values to float64.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
