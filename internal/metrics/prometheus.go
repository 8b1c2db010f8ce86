package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged, never returned.
type PrometheusSink struct {
	callsTotal      *prometheus.CounterVec
	passesTotal     *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec
	missedQueueSize prometheus.Gauge

	recordingsTotal        prometheus.Counter
	transcriptionsTotal    *prometheus.CounterVec
	transcriptionDuration  prometheus.Histogram
	queueDepth             prometheus.Gauge
	jobsInFlight           prometheus.Gauge
	enqueueRejectionsTotal prometheus.Counter
}

// NewPrometheusSink creates the collectors and registers them on reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initCallMetrics(reg)
	s.initTranscriptionMetrics(reg)
	return s
}

func (s *PrometheusSink) initCallMetrics(reg prometheus.Registerer) {
	s.callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dropline_calls_total",
		Help: "Call placements by pass kind and outcome.",
	}, []string{"kind", "outcome"})
	s.passesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dropline_passes_total",
		Help: "Completed dispatch and retry passes.",
	}, []string{"kind"})
	s.passDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dropline_pass_duration_seconds",
		Help:    "Wall time of a dispatch or retry pass.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
	}, []string{"kind"})
	s.missedQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropline_missed_queue_size",
		Help: "Entries in the missed-call retry queue.",
	})

	s.register(reg, s.callsTotal, "dropline_calls_total")
	s.register(reg, s.passesTotal, "dropline_passes_total")
	s.register(reg, s.passDuration, "dropline_pass_duration_seconds")
	s.register(reg, s.missedQueueSize, "dropline_missed_queue_size")
}

func (s *PrometheusSink) initTranscriptionMetrics(reg prometheus.Registerer) {
	s.recordingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dropline_recordings_received_total",
		Help: "Recording callbacks accepted.",
	})
	s.transcriptionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dropline_transcriptions_total",
		Help: "Finished transcription jobs by status.",
	}, []string{"status"})
	s.transcriptionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dropline_transcription_duration_seconds",
		Help:    "Time from job start to stored transcription, grace period included.",
		Buckets: []float64{1, 5, 8, 10, 15, 30, 60, 120},
	})
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropline_transcription_queue_depth",
		Help: "Jobs waiting for a transcription worker.",
	})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropline_transcription_jobs_in_flight",
		Help: "Jobs currently being processed.",
	})
	s.enqueueRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dropline_transcription_enqueue_rejections_total",
		Help: "Jobs not enqueued because the queue stayed full.",
	})

	s.register(reg, s.recordingsTotal, "dropline_recordings_received_total")
	s.register(reg, s.transcriptionsTotal, "dropline_transcriptions_total")
	s.register(reg, s.transcriptionDuration, "dropline_transcription_duration_seconds")
	s.register(reg, s.queueDepth, "dropline_transcription_queue_depth")
	s.register(reg, s.jobsInFlight, "dropline_transcription_jobs_in_flight")
	s.register(reg, s.enqueueRejectionsTotal, "dropline_transcription_enqueue_rejections_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) CallPlaced(kind, outcome string) {
	s.callsTotal.WithLabelValues(kind, outcome).Inc()
}

func (s *PrometheusSink) PassCompleted(kind string, duration time.Duration, successful, failed int) {
	s.passesTotal.WithLabelValues(kind).Inc()
	s.passDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (s *PrometheusSink) MissedQueueSize(n int) {
	s.missedQueueSize.Set(float64(n))
}

func (s *PrometheusSink) RecordingReceived() {
	s.recordingsTotal.Inc()
}

func (s *PrometheusSink) TranscriptionCompleted(status string, duration time.Duration) {
	s.transcriptionsTotal.WithLabelValues(status).Inc()
	s.transcriptionDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) QueueDepthUpdate(n int) {
	s.queueDepth.Set(float64(n))
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

func (s *PrometheusSink) EnqueueRejected() {
	s.enqueueRejectionsTotal.Inc()
}
