package mesh

import (
	"fmt"
	"math/rand"
)

// RansacConfig holds configuration for the sample-consensus seed fitter.
type RansacConfig struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	Trials    int     `yaml:"trials" json:"trials"`       // Number of minimal samples drawn
	Threshold float64 `yaml:"threshold" json:"threshold"` // Inlier distance for consensus scoring
	Seed      int64   `yaml:"seed" json:"seed"`           // Seed for the per-call random source
}

// DefaultRansacConfig returns sensible defaults. Sampling is off unless enabled.
func DefaultRansacConfig() RansacConfig {
	return RansacConfig{
		Enabled:   false,
		Trials:    200,
		Threshold: 5.0,
		Seed:      1,
	}
}

// RansacFitter wraps a base fitter with random minimal-sample consensus: it
// draws Trials minimal samples, keeps the model with the most pairs within
// Threshold, and refits on that consensus set.
//
// A fresh random source seeded with Seed is created on every Fit, so the
// fitter carries no state between calls and identical inputs give identical
// models.
type RansacFitter struct {
	Base      PairFitter
	Trials    int
	Threshold float64
	Seed      int64
}

// NewRansacFitter validates cfg and wraps base.
func NewRansacFitter(base PairFitter, cfg RansacConfig) (*RansacFitter, error) {
	if base == nil {
		return nil, fmt.Errorf("ransac: base fitter is required")
	}
	if cfg.Trials <= 0 {
		return nil, fmt.Errorf("ransac: trials must be positive, got %d", cfg.Trials)
	}
	if cfg.Threshold <= 0 {
		return nil, fmt.Errorf("ransac: threshold must be positive, got %v", cfg.Threshold)
	}
	return &RansacFitter{Base: base, Trials: cfg.Trials, Threshold: cfg.Threshold, Seed: cfg.Seed}, nil
}

// MinPoints implements estimator.Fitter.
func (r *RansacFitter) MinPoints() int { return r.Base.MinPoints() }

// Fit implements estimator.Fitter.
func (r *RansacFitter) Fit(pairs []Correspondence) (AffineMatrix, error) {
	k := r.Base.MinPoints()
	if len(pairs) < k {
		return Identity(), degenerate("ransac needs at least %d pairs, got %d", k, len(pairs))
	}
	if len(pairs) == k {
		return r.Base.Fit(pairs)
	}

	rng := rand.New(rand.NewSource(r.Seed))
	eval := NewTransferDistance()
	sample := make([]Correspondence, k)

	var best []Correspondence
	for trial := 0; trial < r.Trials; trial++ {
		for i, idx := range rng.Perm(len(pairs))[:k] {
			sample[i] = pairs[idx]
		}
		model, err := r.Base.Fit(sample)
		if err != nil {
			continue
		}

		eval.Bind(model)
		var consensus []Correspondence
		for _, c := range pairs {
			if eval.Distance(c) <= r.Threshold {
				consensus = append(consensus, c)
			}
		}
		if len(consensus) > len(best) {
			best = consensus
		}
	}

	if len(best) < k {
		// No minimal sample produced a usable model; fall back to all pairs.
		return r.Base.Fit(pairs)
	}
	return r.Base.Fit(best)
}
