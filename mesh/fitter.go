package mesh

import (
	"fmt"
	"strings"

	"github.com/kwv/meshfit/estimator"
)

// ModelKind names a planar transform family.
type ModelKind string

const (
	ModelAffine      ModelKind = "affine"      // 6 DOF, needs 3 non-collinear pairs
	ModelSimilarity  ModelKind = "similarity"  // rotation + uniform scale + translation
	ModelRigid       ModelKind = "rigid"       // rotation + translation
	ModelTranslation ModelKind = "translation" // translation only
)

// ParseModelKind parses a model name (case-insensitive).
func ParseModelKind(name string) (ModelKind, error) {
	switch kind := ModelKind(strings.ToLower(strings.TrimSpace(name))); kind {
	case ModelAffine, ModelSimilarity, ModelRigid, ModelTranslation:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown model %q (want affine, similarity, rigid or translation)", name)
	}
}

// PairFitter is the fitter contract specialized to point correspondences.
type PairFitter = estimator.Fitter[Correspondence, AffineMatrix]

// PairEvaluator is the evaluator contract specialized to point correspondences.
type PairEvaluator = estimator.Evaluator[Correspondence, AffineMatrix]

// transformFitter adapts one of the closed-form solvers to estimator.Fitter.
type transformFitter struct {
	kind ModelKind
	min  int
	fit  func(source, target []Point) (AffineMatrix, error)
}

func (f transformFitter) MinPoints() int { return f.min }

func (f transformFitter) Fit(pairs []Correspondence) (AffineMatrix, error) {
	if len(pairs) < f.min {
		return Identity(), degenerate("%s needs at least %d pairs, got %d", f.kind, f.min, len(pairs))
	}
	return f.fit(splitPairs(pairs))
}

func (f transformFitter) String() string { return string(f.kind) }

// AffineFitter fits a full affine transform by least squares.
func AffineFitter() PairFitter {
	return transformFitter{kind: ModelAffine, min: 3, fit: fitAffine}
}

// SimilarityFitter fits rotation, uniform scale and translation.
func SimilarityFitter() PairFitter {
	return transformFitter{kind: ModelSimilarity, min: 2, fit: fitSimilarity}
}

// RigidFitter fits rotation and translation (Procrustes).
func RigidFitter() PairFitter {
	return transformFitter{kind: ModelRigid, min: 2, fit: fitRigid}
}

// TranslationFitter fits the mean offset.
func TranslationFitter() PairFitter {
	return transformFitter{kind: ModelTranslation, min: 1, fit: fitTranslation}
}

// NewFitter returns the fitter for kind.
func NewFitter(kind ModelKind) (PairFitter, error) {
	switch kind {
	case ModelAffine:
		return AffineFitter(), nil
	case ModelSimilarity:
		return SimilarityFitter(), nil
	case ModelRigid:
		return RigidFitter(), nil
	case ModelTranslation:
		return TranslationFitter(), nil
	default:
		return nil, fmt.Errorf("unknown model %q", kind)
	}
}

// TransferDistance scores a correspondence by the Euclidean distance between
// the transformed source and the target.
type TransferDistance struct {
	model AffineMatrix
}

// NewTransferDistance returns an evaluator bound to the identity transform.
func NewTransferDistance() *TransferDistance {
	return &TransferDistance{model: Identity()}
}

// Bind replaces the bound transform.
func (d *TransferDistance) Bind(model AffineMatrix) { d.model = model }

// Distance returns |T(source) - target|.
func (d *TransferDistance) Distance(c Correspondence) float64 {
	return Distance(TransformPoint(c.Source, d.model), c.Target)
}

// Distances fills out[i] with Distance(pairs[i]).
func (d *TransferDistance) Distances(pairs []Correspondence, out []float64) {
	for i, c := range pairs {
		out[i] = d.Distance(c)
	}
}
