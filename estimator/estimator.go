// Package estimator recovers a best-fit model from observations contaminated
// by gross outliers by iterating fit, score and prune until the candidate
// inlier set stops shrinking.
//
// The geometry is injected: a Fitter turns observations into a model and an
// Evaluator scores one observation against a bound model.
package estimator

import (
	"errors"
	"fmt"
)

var (
	// ErrDegenerate is returned (or wrapped) by fitters that cannot produce a
	// model from the observations they were given.
	ErrDegenerate = errors.New("degenerate fit")

	// ErrInsufficientData means the input dataset was smaller than the
	// configured minimum before any fitting took place.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerateFit wraps a fitter failure during a run.
	ErrDegenerateFit = errors.New("model fit failed")

	// ErrInsufficientSupport means pruning drove the working set below the
	// configured minimum.
	ErrInsufficientSupport = errors.New("insufficient support")

	// ErrNonFiniteResidual means the evaluator returned NaN or Inf.
	ErrNonFiniteResidual = errors.New("non-finite residual")

	// ErrNegativeResidual means the evaluator returned a value below zero.
	ErrNegativeResidual = errors.New("negative residual")

	// ErrInvalidConfig is wrapped by every configuration validation error.
	ErrInvalidConfig = errors.New("invalid matcher config")
)

// Fitter produces a model from an ordered sequence of observations.
// Implementations must be pure: the matcher calls Fit repeatedly on
// shrinking subsets and expects no state to carry over between calls.
type Fitter[O, M any] interface {
	// MinPoints is the smallest number of observations Fit accepts.
	MinPoints() int
	// Fit returns a model or an error when the observations are too few or
	// numerically degenerate.
	Fit(obs []O) (M, error)
}

// Evaluator scores observations against a bound model.
type Evaluator[O, M any] interface {
	// Bind replaces the currently bound model.
	Bind(model M)
	// Distance returns the non-negative residual of one observation.
	Distance(obs O) float64
	// Distances writes Distance(obs[i]) into out[i]; len(out) >= len(obs).
	Distances(obs []O, out []float64)
}

// FitterFunc adapts a function to the Fitter interface.
type FitterFunc[O, M any] struct {
	Min int
	Fn  func(obs []O) (M, error)
}

// MinPoints implements Fitter.
func (f FitterFunc[O, M]) MinPoints() int { return f.Min }

// Fit implements Fitter. It rejects inputs below Min before calling Fn.
func (f FitterFunc[O, M]) Fit(obs []O) (M, error) {
	if len(obs) < f.Min {
		var zero M
		return zero, fmt.Errorf("%w: %d observations, need %d", ErrDegenerate, len(obs), f.Min)
	}
	return f.Fn(obs)
}

// DistanceFunc adapts a pure residual function to the Evaluator interface.
type DistanceFunc[O, M any] struct {
	Fn    func(model M, obs O) float64
	model M
}

// NewDistanceFunc wraps fn as an Evaluator.
func NewDistanceFunc[O, M any](fn func(model M, obs O) float64) *DistanceFunc[O, M] {
	return &DistanceFunc[O, M]{Fn: fn}
}

// Bind implements Evaluator.
func (d *DistanceFunc[O, M]) Bind(model M) { d.model = model }

// Distance implements Evaluator.
func (d *DistanceFunc[O, M]) Distance(obs O) float64 { return d.Fn(d.model, obs) }

// Distances implements Evaluator.
func (d *DistanceFunc[O, M]) Distances(obs []O, out []float64) {
	for i, o := range obs {
		out[i] = d.Fn(d.model, o)
	}
}
