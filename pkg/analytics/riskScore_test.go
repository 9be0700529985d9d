package analytics

import (
	"testing"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/pkg/storage"
	"github.com/stretchr/testify/assert"
)

func Test_SlashingScore(t *testing.T) {
	t.Run("Clean record is 100", func(t *testing.T) {
		assert.Equal(t, 100.0, SlashingScore(0, -1))
	})
	t.Run("25 points per incident", func(t *testing.T) {
		assert.Equal(t, 75.0, SlashingScore(1, 365))
		assert.Equal(t, 50.0, SlashingScore(2, 365))
		assert.Equal(t, 0.0, SlashingScore(4, 365))
	})
	t.Run("Never negative", func(t *testing.T) {
		assert.Equal(t, 0.0, SlashingScore(10, 365))
	})
	t.Run("Recent slash halves the remainder", func(t *testing.T) {
		assert.InDelta(t, 37.5, SlashingScore(1, 0), 1e-9)
	})
	t.Run("Recency penalty decays out by day 90", func(t *testing.T) {
		assert.InDelta(t, 56.25, SlashingScore(1, 45), 1e-9)
		assert.Equal(t, 75.0, SlashingScore(1, 90))
	})
}

func Test_ConcentrationScore(t *testing.T) {
	assert.Equal(t, 100.0, ConcentrationScore(0))
	assert.Equal(t, 0.0, ConcentrationScore(10000))
	assert.InDelta(t, 50.0, ConcentrationScore(5000), 1e-9)
	assert.Equal(t, 0.0, ConcentrationScore(20000))
}

func Test_StabilityScore(t *testing.T) {
	assert.Equal(t, 100.0, StabilityScore(0))
	assert.InDelta(t, 50.0, StabilityScore(1), 1e-9)
	assert.InDelta(t, 20.0, StabilityScore(4), 1e-9)
	assert.Equal(t, 100.0, StabilityScore(-3))
}

func Test_DelegatorHealthScore(t *testing.T) {
	assert.Equal(t, 0.0, DelegatorHealthScore(0))
	assert.Equal(t, 30.0, DelegatorHealthScore(3))
	assert.Equal(t, 100.0, DelegatorHealthScore(10))
	assert.Equal(t, 100.0, DelegatorHealthScore(500))
}

func Test_CompositeRiskScore(t *testing.T) {
	scores := ComponentScores{
		Slashing:        100,
		Concentration:   80,
		Stability:       60,
		DelegatorHealth: 40,
	}

	t.Run("Weights are normalized, not required to sum to 1", func(t *testing.T) {
		weights := config.RiskWeights{Slashing: 2, Concentration: 2, Volatility: 2, Delegators: 2}
		assert.InDelta(t, 70.0, CompositeRiskScore(scores, weights), 1e-9)
	})
	t.Run("All-zero weights fall back to equal weighting", func(t *testing.T) {
		assert.InDelta(t, 70.0, CompositeRiskScore(scores, config.RiskWeights{}), 1e-9)
	})
	t.Run("Single weight selects a single component", func(t *testing.T) {
		weights := config.RiskWeights{Delegators: 1}
		assert.InDelta(t, 40.0, CompositeRiskScore(scores, weights), 1e-9)
	})
	t.Run("Default policy weighting", func(t *testing.T) {
		weights := config.RiskWeights{Slashing: 0.4, Concentration: 0.25, Volatility: 0.2, Delegators: 0.15}
		expected := 100*0.4 + 80*0.25 + 60*0.2 + 40*0.15
		assert.InDelta(t, expected, CompositeRiskScore(scores, weights), 1e-9)
	})
	t.Run("Result stays inside 0-100", func(t *testing.T) {
		perfect := ComponentScores{Slashing: 100, Concentration: 100, Stability: 100, DelegatorHealth: 100}
		assert.Equal(t, 100.0, CompositeRiskScore(perfect, config.RiskWeights{}))
		assert.Equal(t, 0.0, CompositeRiskScore(ComponentScores{}, config.RiskWeights{}))
	})
}

func Test_RiskLevelForScore(t *testing.T) {
	assert.Equal(t, storage.RiskLevelLow, RiskLevelForScore(80))
	assert.Equal(t, storage.RiskLevelLow, RiskLevelForScore(100))
	assert.Equal(t, storage.RiskLevelMedium, RiskLevelForScore(79.99))
	assert.Equal(t, storage.RiskLevelMedium, RiskLevelForScore(60))
	assert.Equal(t, storage.RiskLevelHigh, RiskLevelForScore(59.5))
	assert.Equal(t, storage.RiskLevelHigh, RiskLevelForScore(40))
	assert.Equal(t, storage.RiskLevelCritical, RiskLevelForScore(39.99))
	assert.Equal(t, storage.RiskLevelCritical, RiskLevelForScore(0))
}

func Test_ConfidenceScore(t *testing.T) {
	t.Run("Established operator with fresh activity maxes out", func(t *testing.T) {
		assert.Equal(t, 100.0, ConfidenceScore(90, 25, 1))
	})
	t.Run("Tenure scales linearly below 30 days", func(t *testing.T) {
		// 15 days -> 25 tenure, 1 delegator -> 10, stale activity -> 5
		assert.InDelta(t, 40.0, ConfidenceScore(15, 1, 120), 1e-9)
	})
	t.Run("Brand new operator", func(t *testing.T) {
		// 0 tenure, <2 delegators -> 10, activity today -> 20
		assert.InDelta(t, 30.0, ConfidenceScore(0, 0, 0), 1e-9)
	})
	t.Run("Mid-tier delegator base", func(t *testing.T) {
		// full tenure 50, 2-9 delegators -> 20, 8-30 day activity -> 10
		assert.InDelta(t, 80.0, ConfidenceScore(60, 5, 14), 1e-9)
	})
}

func Test_HasSufficientData(t *testing.T) {
	assert.True(t, HasSufficientData(30, 2))
	assert.True(t, HasSufficientData(365, 100))
	assert.False(t, HasSufficientData(29, 2))
	assert.False(t, HasSufficientData(30, 1))
	assert.False(t, HasSufficientData(0, 0))
}
