package mesh

import (
	"fmt"
	"math"
)

// ParamCount is the length of an encoded affine parameter vector.
const ParamCount = 6

// EncodeParams flattens a transform into [a, b, tx, c, d, ty] for optimizers
// that work on plain parameter vectors.
func EncodeParams(m AffineMatrix) []float64 {
	return []float64{m.A, m.B, m.Tx, m.C, m.D, m.Ty}
}

// DecodeParams is the inverse of EncodeParams.
func DecodeParams(params []float64) (AffineMatrix, error) {
	if len(params) != ParamCount {
		return Identity(), fmt.Errorf("decode params: want %d values, got %d", ParamCount, len(params))
	}
	for i, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Identity(), fmt.Errorf("decode params: value %d is not finite", i)
		}
	}
	return AffineMatrix{
		A: params[0], B: params[1], Tx: params[2],
		C: params[3], D: params[4], Ty: params[5],
	}, nil
}
