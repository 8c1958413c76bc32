package mesh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for robust fits.
type Metrics struct {
	fitsTotal   *prometheus.CounterVec
	iterations  prometheus.Histogram
	inlierRatio prometheus.Histogram
	duration    prometheus.Histogram
}

// NewMetrics registers the fit collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		fitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshfit_fits_total",
				Help: "Total number of robust fits by model and result",
			},
			[]string{"model", "result"},
		),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshfit_fit_iterations",
			Help:    "Fit/score/prune rounds per successful fit",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		inlierRatio: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshfit_inlier_ratio",
			Help:    "Fraction of correspondences kept as inliers",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshfit_fit_duration_seconds",
			Help:    "Wall time of one robust fit",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// observe records one outcome. A nil receiver is a no-op.
func (m *Metrics) observe(o FitOutcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !o.OK {
		result = o.Reason
	}
	m.fitsTotal.WithLabelValues(o.Model, result).Inc()
	m.duration.Observe(elapsed.Seconds())
	if o.OK {
		m.iterations.Observe(float64(o.Iterations))
		m.inlierRatio.Observe(o.InlierRatio())
	}
}
