package estimator

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Config holds the construction-time settings of a Matcher.
type Config struct {
	MaxIterations int       `yaml:"maxIterations" json:"maxIterations"` // Iteration budget, > 0
	MinPoints     int       `yaml:"minPoints" json:"minPoints"`         // Smallest acceptable working set; 0 uses the fitter's minimum
	Statistic     Statistic `yaml:"statistic" json:"statistic"`         // mean, median or percentile
	Retention     float64   `yaml:"retention" json:"retention"`         // Sigma multiplier (mean) or fraction (median, percentile)
}

// DefaultConfig returns a median matcher that keeps the best 90% each round.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 10,
		MinPoints:     0,
		Statistic:     Median,
		Retention:     0.9,
	}
}

// Validate checks the configuration against a fitter minimum.
func (c Config) Validate(fitterMin int) error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: maxIterations must be positive, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.MinPoints != 0 && c.MinPoints < fitterMin {
		return fmt.Errorf("%w: minPoints %d is below the fitter minimum %d", ErrInvalidConfig, c.MinPoints, fitterMin)
	}
	return c.Statistic.ValidateRetention(c.Retention)
}

// IterationStats describes one fit/score/prune round.
type IterationStats struct {
	Iteration   int     // 1-based
	SizeBefore  int     // Working-set size the model was fitted on
	SizeAfter   int     // Working-set size after pruning
	ErrorMetric float64 // Metric of the fitted model over SizeBefore observations
}

// Option customizes a Matcher.
type Option func(*options)

type options struct {
	logger   zerolog.Logger
	observer func(IterationStats)
}

// WithLogger sets a logger for per-iteration debug traces.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver registers a callback invoked after every prune.
func WithObserver(fn func(IterationStats)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// Result is the outcome of a successful run.
type Result[O, M any] struct {
	model      M
	matches    []O
	metric     float64
	iterations int
	converged  bool
	trace      []IterationStats
}

// Model returns the last fitted model.
func (r *Result[O, M]) Model() M { return r.model }

// Matches returns a copy of the final working set (the inliers).
func (r *Result[O, M]) Matches() []O {
	out := make([]O, len(r.matches))
	copy(out, r.matches)
	return out
}

// ErrorMetric returns the metric recorded for the returned model.
func (r *Result[O, M]) ErrorMetric() float64 { return r.metric }

// Iterations returns the number of fit/score/prune rounds performed.
func (r *Result[O, M]) Iterations() int { return r.iterations }

// Converged reports whether the working set stabilized. It is false when the
// run stopped because the iteration budget was exhausted.
func (r *Result[O, M]) Converged() bool { return r.converged }

// Trace returns per-iteration statistics in order.
func (r *Result[O, M]) Trace() []IterationStats {
	out := make([]IterationStats, len(r.trace))
	copy(out, r.trace)
	return out
}

// Matcher drives the fit, score, prune loop for one dataset at a time.
// A Matcher holds no state between runs other than the last result served by
// its accessors; all working state is local to Match.
type Matcher[O, M any] struct {
	fitter    Fitter[O, M]
	evaluator Evaluator[O, M]
	cfg       Config
	minPoints int
	opts      options

	mu   sync.Mutex
	last *Result[O, M]
}

// NewMatcher validates cfg and returns a matcher bound to fitter and evaluator.
func NewMatcher[O, M any](fitter Fitter[O, M], evaluator Evaluator[O, M], cfg Config, opts ...Option) (*Matcher[O, M], error) {
	if fitter == nil || evaluator == nil {
		return nil, fmt.Errorf("%w: fitter and evaluator are required", ErrInvalidConfig)
	}
	if err := cfg.Validate(fitter.MinPoints()); err != nil {
		return nil, err
	}

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	minPoints := cfg.MinPoints
	if minPoints == 0 {
		minPoints = fitter.MinPoints()
	}
	if minPoints < 1 {
		minPoints = 1
	}

	return &Matcher[O, M]{
		fitter:    fitter,
		evaluator: evaluator,
		cfg:       cfg,
		minPoints: minPoints,
		opts:      o,
	}, nil
}

// Config returns the matcher configuration.
func (m *Matcher[O, M]) Config() Config { return m.cfg }

// MinPoints returns the effective minimum working-set size.
func (m *Matcher[O, M]) MinPoints() int { return m.minPoints }

// Match runs the estimator over dataset. The dataset is copied and never
// modified. On error the returned result is nil.
func (m *Matcher[O, M]) Match(dataset []O) (*Result[O, M], error) {
	log := m.opts.logger

	set := NewWorkingSet(dataset)
	if set.Len() < m.minPoints {
		return nil, fmt.Errorf("%w: %d observations, need at least %d", ErrInsufficientData, set.Len(), m.minPoints)
	}

	stats, err := NewPruneStatistics[O, M](m.cfg.Statistic, m.cfg.Retention)
	if err != nil {
		return nil, err
	}

	var trace []IterationStats
	for iter := 1; ; iter++ {
		sizeBefore := set.Len()

		model, err := m.fitter.Fit(set.view())
		if err != nil {
			log.Debug().Int("iteration", iter).Int("size", sizeBefore).Err(err).Msg("fit failed")
			return nil, fmt.Errorf("%w at iteration %d with %d observations: %w", ErrDegenerateFit, iter, sizeBefore, err)
		}

		m.evaluator.Bind(model)
		stats.Bind(m.evaluator, set)
		metric, err := stats.Compute()
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", iter, err)
		}
		stats.Prune()

		it := IterationStats{
			Iteration:   iter,
			SizeBefore:  sizeBefore,
			SizeAfter:   set.Len(),
			ErrorMetric: metric,
		}
		trace = append(trace, it)
		if m.opts.observer != nil {
			m.opts.observer(it)
		}
		log.Debug().
			Int("iteration", iter).
			Int("sizeBefore", it.SizeBefore).
			Int("sizeAfter", it.SizeAfter).
			Float64("errorMetric", metric).
			Msg("matcher iteration")

		if set.Len() < m.minPoints {
			return nil, fmt.Errorf("%w: %d observations left after iteration %d, need %d", ErrInsufficientSupport, set.Len(), iter, m.minPoints)
		}

		stable := set.Len() == sizeBefore
		if stable || iter >= m.cfg.MaxIterations {
			return &Result[O, M]{
				model:      model,
				matches:    set.Items(),
				metric:     metric,
				iterations: iter,
				converged:  stable,
				trace:      trace,
			}, nil
		}
	}
}

// Run executes Match and records the outcome for the accessors. It reports
// whether the run succeeded.
func (m *Matcher[O, M]) Run(dataset []O) bool {
	res, err := m.Match(dataset)
	if err != nil {
		m.opts.logger.Debug().Err(err).Int("size", len(dataset)).Msg("matcher run failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = res
	return err == nil
}

// Model returns the model of the last successful Run; ok is false after a
// failed run or before any run.
func (m *Matcher[O, M]) Model() (model M, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return model, false
	}
	return m.last.model, true
}

// Matches returns the inlier set of the last successful Run.
func (m *Matcher[O, M]) Matches() ([]O, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, false
	}
	return m.last.Matches(), true
}

// ErrorMetric returns the error metric of the last successful Run.
func (m *Matcher[O, M]) ErrorMetric() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return 0, false
	}
	return m.last.metric, true
}
