// Package metrics registers the Prometheus instrumentation for the bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors for the service.
type Metrics struct {
	// media
	PacketsReceived prometheus.Counter
	FramesSent      prometheus.Counter
	SendErrors      prometheus.Counter

	// recognition sample queue
	QueueDepth     prometheus.Gauge
	QueueDrops     prometheus.Counter
	ReadStarvation prometheus.Counter

	// synthesis handoff
	TriggersAccepted  prometheus.Counter
	TriggersRejected  prometheus.Counter
	SynthesisFailures prometheus.Counter

	// calls
	ActiveCalls   prometheus.Gauge
	TonesDetected prometheus.Counter
	CallDuration  prometheus.Histogram
}

// New registers all collectors on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all collectors on the given registerer; tests pass a
// throwaway prometheus.NewRegistry().
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_packets_received_total",
			Help: "Inbound RTP packets delivered to bridge sessions",
		}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_frames_sent_total",
			Help: "Outbound 20ms media frames emitted by playback pumps",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_frame_send_errors_total",
			Help: "Outbound frame sends that failed and were skipped",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sipspeech_recognition_queue_depth",
			Help: "Buffers currently waiting in the recognition sample queue",
		}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_recognition_queue_drops_total",
			Help: "Oldest-entry evictions from a full recognition sample queue",
		}),
		ReadStarvation: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_recognition_read_starvation_total",
			Help: "Pull-stream reads satisfied with silence after the attempt budget",
		}),
		TriggersAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_synthesis_triggers_accepted_total",
			Help: "Synthesis triggers that started a job",
		}),
		TriggersRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_synthesis_triggers_rejected_total",
			Help: "Synthesis triggers rejected because a job was already in flight",
		}),
		SynthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_synthesis_failures_total",
			Help: "Synthesis jobs that errored or were cancelled",
		}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sipspeech_active_calls",
			Help: "Bridge sessions currently open",
		}),
		TonesDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipspeech_tones_detected_total",
			Help: "Deduplicated DTMF keypresses",
		}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sipspeech_call_duration_seconds",
			Help:    "Lifetime of closed bridge sessions",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
