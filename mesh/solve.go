package mesh

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/kwv/meshfit/estimator"
)

// Solver builds a matcher per request from a Config and turns the result into
// a FitOutcome. A Solver is safe for concurrent use: every Solve call
// constructs its own fitter, evaluator and matcher.
type Solver struct {
	config  Config
	logger  zerolog.Logger
	metrics *Metrics
}

// NewSolver validates config and returns a solver. metrics may be nil.
func NewSolver(config *Config, logger zerolog.Logger, metrics *Metrics) (*Solver, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Solver{config: cfg, logger: logger, metrics: metrics}, nil
}

// Config returns the solver's validated configuration.
func (s *Solver) Config() Config { return s.config }

// buildFitter returns the configured fitter for kind, wrapped in RANSAC when
// sampling is enabled.
func (s *Solver) buildFitter(kind ModelKind) (PairFitter, error) {
	base, err := NewFitter(kind)
	if err != nil {
		return nil, err
	}
	if !s.config.Ransac.Enabled {
		return base, nil
	}
	return NewRansacFitter(base, s.config.Ransac)
}

// Solve runs the robust estimator over set. Failures are reported in the
// outcome (OK=false, Reason set); the returned error is reserved for requests
// that cannot be attempted at all, such as an unknown model or duplicate IDs.
func (s *Solver) Solve(set CorrespondenceSet) (FitOutcome, error) {
	kind := s.config.Model
	if set.Model != "" {
		parsed, err := ParseModelKind(set.Model)
		if err != nil {
			return FitOutcome{}, err
		}
		kind = parsed
	}
	if err := checkUniqueIDs(set.Pairs); err != nil {
		return FitOutcome{}, err
	}

	fitter, err := s.buildFitter(kind)
	if err != nil {
		return FitOutcome{}, err
	}

	matcherCfg := s.config.Matcher
	if matcherCfg.MinPoints != 0 && matcherCfg.MinPoints < fitter.MinPoints() {
		matcherCfg.MinPoints = fitter.MinPoints()
	}

	log := s.logger.With().Str("request", set.ID).Str("model", string(kind)).Logger()
	matcher, err := estimator.NewMatcher[Correspondence, AffineMatrix](
		fitter, NewTransferDistance(), matcherCfg, estimator.WithLogger(log),
	)
	if err != nil {
		return FitOutcome{}, fmt.Errorf("building matcher: %w", err)
	}

	outcome := FitOutcome{
		RequestID: set.ID,
		Model:     string(kind),
		Statistic: matcherCfg.Statistic.String(),
		Pairs:     set.Pairs,
		Timestamp: time.Now().Unix(),
	}

	start := time.Now()
	res, err := matcher.Match(set.Pairs)
	elapsed := time.Since(start)

	if err != nil {
		outcome.Reason = failureReason(err)
		outcome.Transform = Identity()
		outcome.Outliers = idsOf(set.Pairs)
		log.Info().Err(err).Int("pairs", len(set.Pairs)).Msg("robust fit failed")
		s.metrics.observe(outcome, elapsed)
		return outcome, nil
	}

	outcome.OK = true
	outcome.Transform = res.Model()
	outcome.Params = EncodeParams(res.Model())
	outcome.ErrorMetric = res.ErrorMetric()
	outcome.Iterations = res.Iterations()
	outcome.Converged = res.Converged()
	outcome.Inliers = idsOf(res.Matches())
	outcome.Outliers = complementIDs(set.Pairs, outcome.Inliers)

	log.Info().
		Int("pairs", len(set.Pairs)).
		Int("inliers", len(outcome.Inliers)).
		Int("iterations", outcome.Iterations).
		Bool("converged", outcome.Converged).
		Float64("errorMetric", outcome.ErrorMetric).
		Dur("elapsed", elapsed).
		Msg("robust fit complete")
	s.metrics.observe(outcome, elapsed)
	return outcome, nil
}

// failureReason maps estimator errors to short machine-readable reasons.
func failureReason(err error) string {
	switch {
	case errors.Is(err, estimator.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, estimator.ErrDegenerateFit):
		return "degenerate_fit"
	case errors.Is(err, estimator.ErrInsufficientSupport):
		return "insufficient_support"
	case errors.Is(err, estimator.ErrNonFiniteResidual), errors.Is(err, estimator.ErrNegativeResidual):
		return "invalid_residual"
	default:
		return "error"
	}
}

func checkUniqueIDs(pairs []Correspondence) error {
	seen := make(map[int]struct{}, len(pairs))
	for _, p := range pairs {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate correspondence id %d", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// idsOf returns the sorted IDs of pairs.
func idsOf(pairs []Correspondence) []int {
	ids := make([]int, len(pairs))
	for i, p := range pairs {
		ids[i] = p.ID
	}
	sort.Ints(ids)
	return ids
}

// complementIDs returns the sorted IDs of pairs not listed in kept.
func complementIDs(pairs []Correspondence, kept []int) []int {
	in := make(map[int]struct{}, len(kept))
	for _, id := range kept {
		in[id] = struct{}{}
	}
	var out []int
	for _, p := range pairs {
		if _, ok := in[p.ID]; !ok {
			out = append(out, p.ID)
		}
	}
	sort.Ints(out)
	return out
}
