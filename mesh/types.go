package mesh

// Point represents a 2D coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// Correspondence is one matched point pair: Target ≈ T(Source).
// ID is caller-assigned and is how inliers are reported back.
type Correspondence struct {
	ID     int   `json:"id"`
	Source Point `json:"source"`
	Target Point `json:"target"`
}

// CorrespondenceSet is the wire form of a fit request.
type CorrespondenceSet struct {
	ID    string           `json:"id,omitempty"`
	Model string           `json:"model,omitempty"` // Optional override of the configured model kind
	Pairs []Correspondence `json:"pairs"`
}

// FitOutcome is the result of one robust fit, successful or not.
type FitOutcome struct {
	RequestID   string           `json:"requestId,omitempty"`
	OK          bool             `json:"ok"`
	Reason      string           `json:"reason,omitempty"` // Failure reason when OK is false
	Model       string           `json:"model"`
	Statistic   string           `json:"statistic"`
	Transform   AffineMatrix     `json:"transform"`
	Params      []float64        `json:"params,omitempty"`
	ErrorMetric float64          `json:"errorMetric"`
	Iterations  int              `json:"iterations"`
	Converged   bool             `json:"converged"`
	Inliers     []int            `json:"inliers,omitempty"`
	Outliers    []int            `json:"outliers,omitempty"`
	Pairs       []Correspondence `json:"-"`
	Timestamp   int64            `json:"timestamp"`
}

// InlierRatio returns the fraction of input pairs kept as inliers.
func (o FitOutcome) InlierRatio() float64 {
	total := len(o.Inliers) + len(o.Outliers)
	if total == 0 {
		return 0
	}
	return float64(len(o.Inliers)) / float64(total)
}

// IsInlier reports whether the correspondence with the given ID was kept.
func (o FitOutcome) IsInlier(id int) bool {
	for _, in := range o.Inliers {
		if in == id {
			return true
		}
	}
	return false
}
