package issuance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks issuance activity.
type Metrics struct {
	issuedTotal prometheus.Counter
	qrDuration  prometheus.Histogram
}

// NewMetrics registers issuance metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		issuedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "boacid_ids_issued_total",
			Help: "Number of ID records appended to the ledger.",
		}),
		qrDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "boacid_qr_encode_seconds",
			Help:    "Time spent rendering QR codes.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
}

// nil-safe so the service can run without metrics
func (m *Metrics) issued() {
	if m == nil {
		return
	}
	m.issuedTotal.Inc()
}

func (m *Metrics) timeEncode() func() {
	if m == nil {
		return func() {}
	}
	t := prometheus.NewTimer(m.qrDuration)
	return func() { t.ObserveDuration() }
}
