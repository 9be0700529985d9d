package analytics

import (
	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/pkg/storage"
)

// ComponentScores are the four inputs to the composite, each on a 0-100
// scale where higher is safer.
type ComponentScores struct {
	Slashing        float64
	Concentration   float64
	Stability       float64
	DelegatorHealth float64
}

// SlashingScore penalizes 25 points per slashing incident, with recent
// incidents weighing heavier: a slash today halves the remaining score and
// the extra penalty decays linearly over 90 days.
func SlashingScore(slashCount uint64, daysSinceLastSlash float64) float64 {
	score := 100 - 25*float64(slashCount)
	if score < 0 {
		score = 0
	}
	if slashCount > 0 && daysSinceLastSlash >= 0 && daysSinceLastSlash < 90 {
		score *= 0.5 + 0.5*(daysSinceLastSlash/90)
	}
	return score
}

// ConcentrationScore maps HHI basis points linearly onto 0-100, so a fully
// concentrated book (10000 bips) scores 0 and a perfectly diffuse one 100.
func ConcentrationScore(hhiBips float64) float64 {
	score := 100 - hhiBips/100
	if score < 0 {
		return 0
	}
	return score
}

// StabilityScore is the volatility inverse 100/(1+cv).
func StabilityScore(volatility float64) float64 {
	if volatility < 0 {
		volatility = 0
	}
	return 100 / (1 + volatility)
}

// DelegatorHealthScore rewards a broad delegator base, saturating at ten
// delegators.
func DelegatorHealthScore(delegatorCount uint64) float64 {
	score := 10 * float64(delegatorCount)
	if score > 100 {
		return 100
	}
	return score
}

// CompositeRiskScore combines the component scores with the configured
// weights. Weights are relative and normalized here; all-zero weights fall
// back to equal weighting. The result is clamped to [0, 100].
func CompositeRiskScore(scores ComponentScores, weights config.RiskWeights) float64 {
	ws := weights.Slashing
	wc := weights.Concentration
	wv := weights.Volatility
	wd := weights.Delegators
	totalWeight := ws + wc + wv + wd
	if totalWeight <= 0 {
		ws, wc, wv, wd = 1, 1, 1, 1
		totalWeight = 4
	}

	score := (scores.Slashing*ws + scores.Concentration*wc + scores.Stability*wv + scores.DelegatorHealth*wd) / totalWeight
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// RiskLevelForScore buckets a composite score. Higher scores are safer.
func RiskLevelForScore(score float64) storage.RiskLevel {
	switch {
	case score >= 80:
		return storage.RiskLevelLow
	case score >= 60:
		return storage.RiskLevelMedium
	case score >= 40:
		return storage.RiskLevelHigh
	default:
		return storage.RiskLevelCritical
	}
}

// ConfidenceScore expresses how much the composite can be trusted: up to 50
// points for tenure, 30 for delegator data sufficiency, 20 for recent
// activity.
func ConfidenceScore(operationalDays uint64, delegatorCount uint64, daysSinceLastActivity float64) float64 {
	confidence := 0.0

	if operationalDays >= 30 {
		confidence += 50
	} else {
		confidence += float64(operationalDays) / 30 * 50
	}

	if delegatorCount >= 10 {
		confidence += 30
	} else if delegatorCount >= 2 {
		confidence += 20
	} else {
		confidence += 10
	}

	if daysSinceLastActivity >= 0 && daysSinceLastActivity <= 7 {
		confidence += 20
	} else if daysSinceLastActivity <= 30 {
		confidence += 10
	} else {
		confidence += 5
	}

	return confidence
}

// HasSufficientData gates the composite on minimum tenure and a minimally
// diversified delegator base.
func HasSufficientData(operationalDays uint64, delegatorCount uint64) bool {
	return operationalDays >= 30 && delegatorCount >= 2
}
