package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Open outcomes used as the "result" label.
const (
	ResultOK               = "ok"
	ResultAuthFailed       = "auth_failed"
	ResultMalformed        = "malformed_payload"
	ResultInvalidEnvelope  = "invalid_envelope"
	ResultThrottled        = "throttled"
	ResultIdentityMissing  = "identity_unavailable"
	ResultInvalidRecipient = "invalid_recipient"
	ResultEntropy          = "entropy_unavailable"
)

// Recorder counts envelope operations. A nil Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry
	sealed   *prometheus.CounterVec
	opened   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		sealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrpass",
			Name:      "envelopes_sealed_total",
			Help:      "Envelopes produced for a beacon, by result.",
		}, []string{"result"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrpass",
			Name:      "envelopes_opened_total",
			Help:      "Envelope decryption attempts, by result.",
		}, []string{"result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "qrpass",
			Name:      "envelope_operation_seconds",
			Help:      "Latency of seal and open operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"operation"}),
	}
	r.registry.MustRegister(r.sealed, r.opened, r.latency)
	return r
}

func (r *Recorder) ObserveSeal(started time.Time, result string) {
	if r == nil {
		return
	}
	r.sealed.WithLabelValues(result).Inc()
	r.latency.WithLabelValues("seal").Observe(time.Since(started).Seconds())
}

func (r *Recorder) ObserveOpen(started time.Time, result string) {
	if r == nil {
		return
	}
	r.opened.WithLabelValues(result).Inc()
	r.latency.WithLabelValues("open").Observe(time.Since(started).Seconds())
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// WriteTextfile dumps the current values for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
