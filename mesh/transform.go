package mesh

import (
	"fmt"
	"math"

	"github.com/kwv/meshfit/estimator"
)

// singularEpsilon is the determinant magnitude below which a linear system
// is treated as singular.
const singularEpsilon = 1e-10

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m AffineMatrix) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// Determinant returns the determinant of the linear part.
func (m AffineMatrix) Determinant() float64 {
	return m.A*m.D - m.B*m.C
}

// InvertMatrix computes the inverse of an affine transform.
// ok is false if the matrix is singular (determinant ~= 0).
func InvertMatrix(m AffineMatrix) (inv AffineMatrix, ok bool) {
	det := m.Determinant()
	if math.Abs(det) < singularEpsilon {
		return Identity(), false
	}

	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}, true
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// Rotation creates a rotation transform (angle in radians, around origin)
func Rotation(angle float64) AffineMatrix {
	cos := math.Cos(angle)
	sin := math.Sin(angle)
	return AffineMatrix{A: cos, B: -sin, Tx: 0, C: sin, D: cos, Ty: 0}
}

// RotationDeg creates a rotation transform (angle in degrees, around origin)
func RotationDeg(degrees float64) AffineMatrix {
	return Rotation(degrees * math.Pi / 180.0)
}

// Scale creates a scaling transform
func Scale(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, B: 0, Tx: 0, C: 0, D: sy, Ty: 0}
}

// Distance calculates Euclidean distance between two points
func Distance(p1, p2 Point) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return Point{X: sumX / n, Y: sumY / n}
}

// splitPairs separates correspondences into source and target point slices.
func splitPairs(pairs []Correspondence) (source, target []Point) {
	source = make([]Point, len(pairs))
	target = make([]Point, len(pairs))
	for i, p := range pairs {
		source[i] = p.Source
		target[i] = p.Target
	}
	return source, target
}

func degenerate(format string, args ...any) error {
	return fmt.Errorf("%w: %s", estimator.ErrDegenerate, fmt.Sprintf(format, args...))
}

// fitTranslation returns the mean offset between targets and sources.
func fitTranslation(source, target []Point) (AffineMatrix, error) {
	if len(source) == 0 || len(source) != len(target) {
		return Identity(), degenerate("translation needs at least 1 pair, got %d", len(source))
	}
	s := Centroid(source)
	t := Centroid(target)
	return Translation(t.X-s.X, t.Y-s.Y), nil
}

// fitAffine computes a full affine transform using least squares.
// Coordinates are centered on their centroids first so the normal equations
// reduce to a 2x2 system per output axis and stay well conditioned far from
// the origin.
func fitAffine(source, target []Point) (AffineMatrix, error) {
	if len(source) < 3 || len(source) != len(target) {
		return Identity(), degenerate("affine needs at least 3 pairs, got %d", len(source))
	}
	srcC := Centroid(source)
	tgtC := Centroid(target)

	var sxx, sxy, syy float64
	var sxu, syu, sxv, syv float64
	for i := range source {
		x := source[i].X - srcC.X
		y := source[i].Y - srcC.Y
		u := target[i].X - tgtC.X
		v := target[i].Y - tgtC.Y

		sxx += x * x
		sxy += x * y
		syy += y * y
		sxu += x * u
		syu += y * u
		sxv += x * v
		syv += y * v
	}

	// [[sxx sxy] [sxy syy]] is positive semi-definite; a determinant that is
	// tiny relative to its trace means the sources are collinear.
	det := sxx*syy - sxy*sxy
	trace := sxx + syy
	if trace < singularEpsilon || det <= singularEpsilon*trace*trace {
		return Identity(), degenerate("affine normal equations are singular (collinear sources)")
	}
	invDet := 1.0 / det

	m := AffineMatrix{
		A: (sxu*syy - syu*sxy) * invDet,
		B: (syu*sxx - sxu*sxy) * invDet,
		C: (sxv*syy - syv*sxy) * invDet,
		D: (syv*sxx - sxv*sxy) * invDet,
	}
	m.Tx = tgtC.X - (m.A*srcC.X + m.B*srcC.Y)
	m.Ty = tgtC.Y - (m.C*srcC.X + m.D*srcC.Y)
	return m, nil
}

// centeredCovariance returns the centroids and the cross-covariance terms of
// the centered point sets along with the source spread.
func centeredCovariance(source, target []Point) (srcC, tgtC Point, h11, h12, h21, h22, srcVar float64) {
	srcC = Centroid(source)
	tgtC = Centroid(target)
	for i := range source {
		sx := source[i].X - srcC.X
		sy := source[i].Y - srcC.Y
		tx := target[i].X - tgtC.X
		ty := target[i].Y - tgtC.Y

		h11 += sx * tx
		h12 += sx * ty
		h21 += sy * tx
		h22 += sy * ty
		srcVar += sx*sx + sy*sy
	}
	return
}

// fitSimilarity computes translation + rotation + uniform scale by least
// squares over 2 or more pairs.
func fitSimilarity(source, target []Point) (AffineMatrix, error) {
	if len(source) < 2 || len(source) != len(target) {
		return Identity(), degenerate("similarity needs at least 2 pairs, got %d", len(source))
	}
	srcC, tgtC, h11, h12, h21, h22, srcVar := centeredCovariance(source, target)
	if srcVar < singularEpsilon {
		return Identity(), degenerate("similarity sources are coincident")
	}

	// Closed form: a = sum(sx*tx + sy*ty)/var, b = sum(sx*ty - sy*tx)/var
	a := (h11 + h22) / srcVar
	b := (h12 - h21) / srcVar

	m := AffineMatrix{A: a, B: -b, C: b, D: a}
	m.Tx = tgtC.X - (m.A*srcC.X + m.B*srcC.Y)
	m.Ty = tgtC.Y - (m.C*srcC.X + m.D*srcC.Y)
	return m, nil
}

// fitRigid computes the best rigid transform (rotation + translation only, no scale)
// using Procrustes analysis.
func fitRigid(source, target []Point) (AffineMatrix, error) {
	if len(source) < 2 || len(source) != len(target) {
		return Identity(), degenerate("rigid needs at least 2 pairs, got %d", len(source))
	}
	srcC, tgtC, h11, h12, h21, h22, srcVar := centeredCovariance(source, target)
	if srcVar < singularEpsilon {
		return Identity(), degenerate("rigid sources are coincident")
	}

	// theta = atan2(h12 - h21, h11 + h22) minimizes the sum of squared distances
	theta := math.Atan2(h12-h21, h11+h22)
	rot := Rotation(theta)

	rot.Tx = tgtC.X - (rot.A*srcC.X + rot.B*srcC.Y)
	rot.Ty = tgtC.Y - (rot.C*srcC.X + rot.D*srcC.Y)
	return rot, nil
}
