package estimator

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFitter fits a fixed reference value and counts invocations.
type countingFitter struct {
	min   int
	ref   float64
	calls int
}

func (f *countingFitter) MinPoints() int { return f.min }

func (f *countingFitter) Fit(obs []float64) (float64, error) {
	f.calls++
	if len(obs) < f.min {
		return 0, ErrDegenerate
	}
	return f.ref, nil
}

// meanFitter models the data by its arithmetic mean.
var meanFitter = FitterFunc[float64, float64]{
	Min: 2,
	Fn: func(obs []float64) (float64, error) {
		var sum float64
		for _, o := range obs {
			sum += o
		}
		return sum / float64(len(obs)), nil
	},
}

func newMatcher(t *testing.T, fitter Fitter[float64, float64], cfg Config, opts ...Option) *Matcher[float64, float64] {
	t.Helper()
	m, err := NewMatcher[float64, float64](fitter, absDistance(), cfg, opts...)
	require.NoError(t, err)
	return m
}

func TestMatcherConvergesWithoutExtraIterations(t *testing.T) {
	fitter := &countingFitter{min: 1}
	data := []float64{0, 0, 0, 0, 0, 0, 0, 0, 10, 100}
	m := newMatcher(t, fitter, Config{MaxIterations: 5, MinPoints: 1, Statistic: Mean, Retention: 1})

	res, err := m.Match(data)
	require.NoError(t, err)

	// 100 goes in round one, 10 in round two, round three prunes nothing.
	assert.True(t, res.Converged())
	assert.Equal(t, 3, res.Iterations())
	assert.Equal(t, 3, fitter.calls)
	assert.Len(t, res.Matches(), 8)
	assert.InDelta(t, 0.0, res.ErrorMetric(), tolerance)

	trace := res.Trace()
	require.Len(t, trace, 3)
	assert.Equal(t, 10, trace[0].SizeBefore)
	assert.Equal(t, 9, trace[0].SizeAfter)
	assert.Equal(t, 8, trace[1].SizeAfter)
	assert.Equal(t, trace[2].SizeBefore, trace[2].SizeAfter)
}

func TestMatcherMonotonicShrink(t *testing.T) {
	var sizes []int
	observer := func(it IterationStats) {
		sizes = append(sizes, it.SizeBefore, it.SizeAfter)
	}
	m := newMatcher(t, meanFitter, Config{MaxIterations: 5, Statistic: Median, Retention: 0.8}, WithObserver(observer))

	res, err := m.Match(shuffledRange(200))
	require.NoError(t, err)
	require.NotEmpty(t, sizes)

	for i := 1; i < len(sizes); i++ {
		assert.LessOrEqual(t, sizes[i], sizes[i-1], "working set grew at step %d", i)
	}
	assert.Equal(t, sizes[len(sizes)-1], len(res.Matches()))
}

func TestMatcherBudgetExhausted(t *testing.T) {
	m := newMatcher(t, &countingFitter{min: 1}, Config{MaxIterations: 2, Statistic: Median, Retention: 0.9})

	res, err := m.Match(shuffledRange(200))
	require.NoError(t, err)

	assert.False(t, res.Converged())
	assert.Equal(t, 2, res.Iterations())
	assert.Len(t, res.Matches(), 162)
	// The metric belongs to the model fitted on the 180 survivors of round one.
	assert.InDelta(t, 90.0, res.ErrorMetric(), tolerance)
}

func TestMatcherUndersizedInput(t *testing.T) {
	fitter := &countingFitter{min: 3}
	m := newMatcher(t, fitter, Config{MaxIterations: 5, MinPoints: 5, Statistic: Median, Retention: 0.9})

	res, err := m.Match([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Nil(t, res)
	assert.Equal(t, 0, fitter.calls)

	assert.False(t, m.Run([]float64{1, 2, 3}))
	_, ok := m.Model()
	assert.False(t, ok)
	_, ok = m.Matches()
	assert.False(t, ok)
	_, ok = m.ErrorMetric()
	assert.False(t, ok)
}

func TestMatcherDegenerateFit(t *testing.T) {
	singular := errors.New("singular system")
	fitter := FitterFunc[float64, float64]{
		Min: 1,
		Fn: func(obs []float64) (float64, error) {
			return 0, errors.Join(ErrDegenerate, singular)
		},
	}
	m := newMatcher(t, fitter, Config{MaxIterations: 3, Statistic: Mean, Retention: 1})

	res, err := m.Match([]float64{1, 2, 3})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrDegenerateFit)
	assert.ErrorIs(t, err, ErrDegenerate)
	assert.ErrorIs(t, err, singular)
}

func TestMatcherInsufficientSupport(t *testing.T) {
	m := newMatcher(t, &countingFitter{min: 1}, Config{MaxIterations: 5, MinPoints: 190, Statistic: Median, Retention: 0.9})

	res, err := m.Match(shuffledRange(200))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInsufficientSupport)
}

func TestMatcherNonFiniteResidualFailsFast(t *testing.T) {
	eval := NewDistanceFunc(func(_ float64, obs float64) float64 {
		if obs == 3 {
			return math.NaN()
		}
		return obs
	})
	m, err := NewMatcher[float64, float64](&countingFitter{min: 1}, eval, Config{MaxIterations: 5, Statistic: Mean, Retention: 1})
	require.NoError(t, err)

	res, err := m.Match([]float64{1, 2, 3, 4})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNonFiniteResidual)
}

func TestMatcherDeterminism(t *testing.T) {
	cfg := Config{MaxIterations: 10, Statistic: Mean, Retention: 1.5}
	data := shuffledRange(300)
	data = append(data, 5000, -4000, 7777)

	m := newMatcher(t, meanFitter, cfg)

	first, err := m.Match(data)
	require.NoError(t, err)
	second, err := m.Match(data)
	require.NoError(t, err)

	assert.Equal(t, math.Float64bits(first.Model()), math.Float64bits(second.Model()))
	assert.Equal(t, math.Float64bits(first.ErrorMetric()), math.Float64bits(second.ErrorMetric()))
	assert.Equal(t, first.Matches(), second.Matches())
	assert.Equal(t, first.Iterations(), second.Iterations())
}

func TestMatcherDoesNotMutateInput(t *testing.T) {
	data := shuffledRange(100)
	original := append([]float64(nil), data...)

	m := newMatcher(t, &countingFitter{min: 1}, Config{MaxIterations: 5, Statistic: Median, Retention: 0.5})
	res, err := m.Match(data)
	require.NoError(t, err)

	assert.Equal(t, original, data)

	matches := res.Matches()
	matches[0] = -1
	assert.NotEqual(t, -1.0, res.Matches()[0], "Matches must return a copy")
}

func TestMatcherRunAccessors(t *testing.T) {
	m := newMatcher(t, &countingFitter{min: 1, ref: 0}, Config{MaxIterations: 1, Statistic: Median, Retention: 0.9})

	require.True(t, m.Run(shuffledRange(200)))

	model, ok := m.Model()
	require.True(t, ok)
	assert.Equal(t, 0.0, model)

	matches, ok := m.Matches()
	require.True(t, ok)
	assert.Len(t, matches, 180)

	metric, ok := m.ErrorMetric()
	require.True(t, ok)
	assert.InDelta(t, 100.0, metric, tolerance)

	// A failed run hides the previous result.
	assert.False(t, m.Run(nil))
	_, ok = m.Model()
	assert.False(t, ok)
}

func TestMatcherLogsIterations(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	m := newMatcher(t, &countingFitter{min: 1}, Config{MaxIterations: 2, Statistic: Median, Retention: 0.9}, WithLogger(logger))
	_, err := m.Match(shuffledRange(20))
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"message":"matcher iteration"`)
	assert.Contains(t, buf.String(), `"sizeBefore":20`)
}

func TestNewMatcherValidation(t *testing.T) {
	fitter := &countingFitter{min: 3}
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero iterations", cfg: Config{MaxIterations: 0, Statistic: Median, Retention: 0.5}},
		{name: "min below fitter", cfg: Config{MaxIterations: 1, MinPoints: 2, Statistic: Median, Retention: 0.5}},
		{name: "median fraction above one", cfg: Config{MaxIterations: 1, Statistic: Median, Retention: 1.5}},
		{name: "percentile zero", cfg: Config{MaxIterations: 1, Statistic: Percentile, Retention: 0}},
		{name: "negative sigma", cfg: Config{MaxIterations: 1, Statistic: Mean, Retention: -1}},
		{name: "NaN retention", cfg: Config{MaxIterations: 1, Statistic: Mean, Retention: math.NaN()}},
		{name: "unknown statistic", cfg: Config{MaxIterations: 1, Statistic: Statistic(9), Retention: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMatcher[float64, float64](fitter, absDistance(), tt.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewMatcher[float64, float64](nil, absDistance(), DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	m, err := NewMatcher[float64, float64](fitter, absDistance(), DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, m.MinPoints())
}

func TestParseStatistic(t *testing.T) {
	for _, name := range []string{"mean", "Median", " percentile "} {
		s, err := ParseStatistic(name)
		require.NoError(t, err)
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back Statistic
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	_, err := ParseStatistic("mode")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
