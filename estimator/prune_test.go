package estimator

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-8

// absDistance scores a scalar observation by its distance from the bound
// reference value.
func absDistance() *DistanceFunc[float64, float64] {
	return NewDistanceFunc(func(ref, obs float64) float64 {
		return math.Abs(obs - ref)
	})
}

// shuffledRange returns 0..n-1 as floats in a fixed pseudo-random order.
func shuffledRange(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i)
	}
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(n, func(i, j int) { values[i], values[j] = values[j], values[i] })
	return values
}

func boundStats(t *testing.T, stat Statistic, retention float64, data []float64) (*PruneStatistics[float64, float64], *WorkingSet[float64]) {
	t.Helper()
	ps, err := NewPruneStatistics[float64, float64](stat, retention)
	require.NoError(t, err)

	eval := absDistance()
	eval.Bind(0)
	set := NewWorkingSet(data)
	ps.Bind(eval, set)
	return ps, set
}

func sortedItems(set *WorkingSet[float64]) []float64 {
	items := set.Items()
	sort.Float64s(items)
	return items
}

func TestMedianStatisticScenario(t *testing.T) {
	ps, set := boundStats(t, Median, 0.90, shuffledRange(200))

	metric, err := ps.Compute()
	require.NoError(t, err)
	assert.InDelta(t, 100.0, metric, tolerance)

	removed := ps.Prune()
	assert.Equal(t, 20, removed)
	require.Equal(t, 180, set.Len())

	items := sortedItems(set)
	for i, v := range items {
		assert.Equal(t, float64(i), v, "retained value at %d", i)
	}
}

func TestMedianPruneSortsWorkingSet(t *testing.T) {
	ps, set := boundStats(t, Median, 0.5, []float64{9, 3, 7, 1, 5, 0})

	_, err := ps.Compute()
	require.NoError(t, err)
	ps.Prune()

	assert.Equal(t, []float64{0, 1, 3}, set.Items())
	assert.Equal(t, []float64{0, 1, 3}, ps.Residuals())
}

func TestMeanStatisticScenario(t *testing.T) {
	ps, set := boundStats(t, Mean, 1, shuffledRange(200))

	metric, err := ps.Compute()
	require.NoError(t, err)
	assert.InDelta(t, 99.5, metric, tolerance)

	ps.Prune()
	require.Equal(t, 158, set.Len())
	assert.Equal(t, 157.0, sortedItems(set)[157])
}

func TestPercentileStatistic(t *testing.T) {
	tests := []struct {
		name       string
		percentile float64
		wantMetric float64
		wantSize   int
	}{
		{name: "median cutoff", percentile: 0.5, wantMetric: 100, wantSize: 101},
		{name: "80th percentile", percentile: 0.8, wantMetric: 160, wantSize: 161},
		{name: "full percentile clamps to max", percentile: 1.0, wantMetric: 199, wantSize: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, set := boundStats(t, Percentile, tt.percentile, shuffledRange(200))

			metric, err := ps.Compute()
			require.NoError(t, err)
			assert.InDelta(t, tt.wantMetric, metric, tolerance)

			ps.Prune()
			assert.Equal(t, tt.wantSize, set.Len())
		})
	}
}

func TestPruneIsIdempotent(t *testing.T) {
	for _, stat := range []Statistic{Mean, Median, Percentile} {
		t.Run(stat.String(), func(t *testing.T) {
			retention := 0.75
			if stat == Mean {
				retention = 1
			}
			ps, set := boundStats(t, stat, retention, shuffledRange(50))

			_, err := ps.Compute()
			require.NoError(t, err)
			first := ps.Prune()
			require.Greater(t, first, 0)
			after := set.Items()

			assert.Equal(t, 0, ps.Prune(), "second prune must not remove anything")
			assert.Equal(t, after, set.Items())
		})
	}
}

func TestPruneWithoutComputeIsNoop(t *testing.T) {
	ps, set := boundStats(t, Median, 0.5, shuffledRange(10))
	assert.Equal(t, 0, ps.Prune())
	assert.Equal(t, 10, set.Len())
}

func TestEmptyWorkingSet(t *testing.T) {
	for _, stat := range []Statistic{Mean, Median, Percentile} {
		t.Run(stat.String(), func(t *testing.T) {
			ps, set := boundStats(t, stat, 0.5, nil)

			metric, err := ps.Compute()
			require.NoError(t, err)
			assert.Equal(t, 0.0, metric)
			assert.Equal(t, 0, ps.Prune())
			assert.Equal(t, 0, set.Len())
		})
	}
}

func TestPruneKeepsAtLeastOne(t *testing.T) {
	t.Run("median tiny fraction", func(t *testing.T) {
		ps, set := boundStats(t, Median, 0.01, []float64{4, 2, 8})
		_, err := ps.Compute()
		require.NoError(t, err)
		ps.Prune()
		assert.Equal(t, []float64{2}, set.Items())
	})

	t.Run("percentile tiny fraction", func(t *testing.T) {
		ps, set := boundStats(t, Percentile, 0.01, []float64{4, 2, 8})
		_, err := ps.Compute()
		require.NoError(t, err)
		ps.Prune()
		assert.Equal(t, []float64{2}, set.Items())
	})

	t.Run("mean zero sigma keeps values at the mean", func(t *testing.T) {
		ps, set := boundStats(t, Mean, 0, []float64{5, 5, 5})
		_, err := ps.Compute()
		require.NoError(t, err)
		ps.Prune()
		assert.Equal(t, 3, set.Len())
	})
}

func TestComputeRejectsInvalidResiduals(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		wantErr error
	}{
		{name: "NaN", value: math.NaN(), wantErr: ErrNonFiniteResidual},
		{name: "positive infinity", value: math.Inf(1), wantErr: ErrNonFiniteResidual},
		{name: "negative", value: -1, wantErr: ErrNegativeResidual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := NewPruneStatistics[float64, float64](Mean, 1)
			require.NoError(t, err)

			eval := NewDistanceFunc(func(_ float64, obs float64) float64 {
				if obs == 2 {
					return tt.value
				}
				return obs
			})
			ps.Bind(eval, NewWorkingSet([]float64{1, 2, 3}))

			_, err = ps.Compute()
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, ps.Prune())
		})
	}
}

func TestComputeUnbound(t *testing.T) {
	ps, err := NewPruneStatistics[float64, float64](Median, 0.5)
	require.NoError(t, err)
	_, err = ps.Compute()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFractionCount(t *testing.T) {
	assert.Equal(t, 29, fractionCount(0.29, 100))
	assert.Equal(t, 180, fractionCount(0.9, 200))
	assert.Equal(t, 1, fractionCount(0.01, 10))
	assert.Equal(t, 10, fractionCount(1, 10))
}
