package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_HhiBips(t *testing.T) {
	t.Run("Single holder scores exactly 10000", func(t *testing.T) {
		assert.Equal(t, 10000.0, HhiBips([]float64{42.5}))
	})
	t.Run("Two equal holders score 5000", func(t *testing.T) {
		assert.InDelta(t, 5000.0, HhiBips([]float64{100, 100}), 1e-9)
	})
	t.Run("Four equal holders score 2500", func(t *testing.T) {
		assert.InDelta(t, 2500.0, HhiBips([]float64{1, 1, 1, 1}), 1e-9)
	})
	t.Run("Empty and zero distributions score 0", func(t *testing.T) {
		assert.Equal(t, 0.0, HhiBips(nil))
		assert.Equal(t, 0.0, HhiBips([]float64{0, 0, 0}))
	})
	t.Run("Non-positive entries are ignored", func(t *testing.T) {
		assert.Equal(t, 10000.0, HhiBips([]float64{0, -5, 33}))
	})
	t.Run("Skewed distribution", func(t *testing.T) {
		// 90/10 split: 10000 * (0.81 + 0.01)
		assert.InDelta(t, 8200.0, HhiBips([]float64{90, 10}), 1e-9)
	})
}

func Test_Gini(t *testing.T) {
	t.Run("Fewer than two holders yields 0", func(t *testing.T) {
		assert.Equal(t, 0.0, Gini(nil))
		assert.Equal(t, 0.0, Gini([]float64{100}))
	})
	t.Run("Perfect equality yields 0", func(t *testing.T) {
		assert.InDelta(t, 0.0, Gini([]float64{50, 50, 50, 50}), 1e-9)
	})
	t.Run("Total inequality approaches (n-1)/n", func(t *testing.T) {
		assert.InDelta(t, 0.5, Gini([]float64{0, 100}), 1e-9)
		assert.InDelta(t, 0.75, Gini([]float64{0, 0, 0, 100}), 1e-9)
	})
	t.Run("Order of input does not matter", func(t *testing.T) {
		assert.InDelta(t, Gini([]float64{10, 20, 70}), Gini([]float64{70, 10, 20}), 1e-12)
	})
	t.Run("Known three-holder value", func(t *testing.T) {
		// ascending 1,2,3: 2*(1*1+2*2+3*3)/(3*6) - 4/3 = 28/18 - 4/3 = 2/9
		assert.InDelta(t, 2.0/9.0, Gini([]float64{3, 1, 2}), 1e-12)
	})
}

func Test_TopNShare(t *testing.T) {
	shares := []float64{50, 30, 10, 5, 3, 2}

	t.Run("Top 1", func(t *testing.T) {
		assert.InDelta(t, 0.5, TopNShare(shares, 1), 1e-9)
	})
	t.Run("Top 5", func(t *testing.T) {
		assert.InDelta(t, 0.98, TopNShare(shares, 5), 1e-9)
	})
	t.Run("N larger than holder count takes everything", func(t *testing.T) {
		assert.InDelta(t, 1.0, TopNShare([]float64{10, 20}, 5), 1e-9)
	})
	t.Run("Degenerate inputs", func(t *testing.T) {
		assert.Equal(t, 0.0, TopNShare(nil, 5))
		assert.Equal(t, 0.0, TopNShare(shares, 0))
		assert.Equal(t, 0.0, TopNShare([]float64{0, 0}, 1))
	})
}

func Test_EffectiveHolderCount(t *testing.T) {
	t.Run("Equal holders recover the true count", func(t *testing.T) {
		assert.InDelta(t, 4.0, EffectiveHolderCount([]float64{25, 25, 25, 25}), 1e-9)
	})
	t.Run("Single holder is exactly one", func(t *testing.T) {
		assert.InDelta(t, 1.0, EffectiveHolderCount([]float64{999}), 1e-9)
	})
	t.Run("Empty distribution is zero", func(t *testing.T) {
		assert.Equal(t, 0.0, EffectiveHolderCount(nil))
	})
}
