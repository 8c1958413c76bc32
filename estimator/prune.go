package estimator

import (
	"fmt"
	"math"
	"sort"
)

// fractionEpsilon absorbs binary rounding in retention*n so that, e.g.,
// 0.29*100 keeps 29 observations rather than 28.
const fractionEpsilon = 1e-9

// PruneStatistics turns the residual sample of a working set into an error
// metric and removes observations according to the configured statistic.
//
// The zero value is not usable; construct with NewPruneStatistics.
type PruneStatistics[O, M any] struct {
	stat      Statistic
	retention float64

	eval Evaluator[O, M]
	set  *WorkingSet[O]

	residuals []float64
	metric    float64

	// pending is set by Compute and cleared by Prune, so a second Prune
	// without a fresh Compute removes nothing.
	pending   bool
	threshold float64
	keepCount int
}

// NewPruneStatistics validates retention for stat and returns an unbound
// statistics step.
func NewPruneStatistics[O, M any](stat Statistic, retention float64) (*PruneStatistics[O, M], error) {
	if err := stat.ValidateRetention(retention); err != nil {
		return nil, err
	}
	return &PruneStatistics[O, M]{stat: stat, retention: retention}, nil
}

// Statistic returns the configured variant.
func (p *PruneStatistics[O, M]) Statistic() Statistic { return p.stat }

// Retention returns the configured retention parameter.
func (p *PruneStatistics[O, M]) Retention() float64 { return p.retention }

// Bind attaches the evaluator and the working set. No computation happens
// here and any pending prune is discarded.
func (p *PruneStatistics[O, M]) Bind(eval Evaluator[O, M], set *WorkingSet[O]) {
	p.eval = eval
	p.set = set
	p.residuals = p.residuals[:0]
	p.metric = 0
	p.pending = false
}

// ErrorMetric returns the metric produced by the last Compute.
func (p *PruneStatistics[O, M]) ErrorMetric() float64 { return p.metric }

// Residuals returns a copy of the current residual sample.
func (p *PruneStatistics[O, M]) Residuals() []float64 {
	out := make([]float64, len(p.residuals))
	copy(out, p.residuals)
	return out
}

// Compute evaluates every working-set member against the bound model and
// derives the error metric. It fails if the evaluator produces NaN or Inf.
func (p *PruneStatistics[O, M]) Compute() (float64, error) {
	if p.eval == nil || p.set == nil {
		return 0, fmt.Errorf("%w: statistics not bound", ErrInvalidConfig)
	}

	n := p.set.Len()
	if cap(p.residuals) < n {
		p.residuals = make([]float64, n)
	}
	p.residuals = p.residuals[:n]
	p.metric = 0
	p.pending = false

	if n == 0 {
		return 0, nil
	}

	p.eval.Distances(p.set.view(), p.residuals)
	for i, r := range p.residuals {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return 0, fmt.Errorf("%w: observation %d scored %v", ErrNonFiniteResidual, i, r)
		}
		if r < 0 {
			return 0, fmt.Errorf("%w: observation %d scored %v", ErrNegativeResidual, i, r)
		}
	}

	switch p.stat {
	case Mean:
		mean, stddev := meanStdDev(p.residuals)
		p.metric = mean
		p.threshold = mean + p.retention*stddev
	case Median:
		sorted := sortedCopy(p.residuals)
		p.metric = sorted[n/2]
		p.keepCount = fractionCount(p.retention, n)
	case Percentile:
		sorted := sortedCopy(p.residuals)
		p.metric = sorted[percentileIndex(p.retention, n)]
		p.threshold = p.metric
	}

	p.pending = true
	return p.metric, nil
}

// Prune removes observations according to the retention rule and returns
// how many were removed. A non-empty working set is never emptied.
func (p *PruneStatistics[O, M]) Prune() int {
	if !p.pending || p.set == nil {
		return 0
	}
	p.pending = false

	n := p.set.Len()
	if n == 0 {
		return 0
	}

	var removed int
	switch p.stat {
	case Median:
		p.set.sortBy(p.residuals)
		keep := make([]bool, n)
		for i := 0; i < p.keepCount; i++ {
			keep[i] = true
		}
		removed = p.set.retain(keep)
		p.residuals = p.residuals[:p.keepCount]
	default:
		keep := make([]bool, n)
		kept := 0
		for i, r := range p.residuals {
			if r <= p.threshold {
				keep[i] = true
				kept++
			}
		}
		if kept == 0 {
			keep[argmin(p.residuals)] = true
		}
		removed = p.set.retain(keep)
		p.residuals = filterResiduals(p.residuals, keep)
	}
	return removed
}

// meanStdDev returns the arithmetic mean and population standard deviation.
func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(len(values)))
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

// fractionCount returns floor(fraction*n) clamped to [1, n].
func fractionCount(fraction float64, n int) int {
	k := int(math.Floor(fraction*float64(n) + fractionEpsilon))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// percentileIndex returns floor(p*n) clamped to a valid index.
func percentileIndex(p float64, n int) int {
	idx := int(math.Floor(p*float64(n) + fractionEpsilon))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func argmin(values []float64) int {
	best := 0
	for i, v := range values {
		if v < values[best] {
			best = i
		}
	}
	return best
}

func filterResiduals(values []float64, keep []bool) []float64 {
	out := values[:0]
	for i, v := range values {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}
