// Package metrics exposes the edge agent's Prometheus collectors
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry, so that tests can create as many as they like
type Metrics struct {
	Registry *prometheus.Registry

	FramesProcessed   prometheus.Counter
	Detections        prometheus.Counter
	DetectorErrors    prometheus.Counter
	LiveTracks        prometheus.Gauge
	FrameDuration     prometheus.Histogram
	Escalations       *prometheus.CounterVec // type, result
	Suppressions      *prometheus.CounterVec // type, reason
	ClipFailures      prometheus.Counter
	NotificationFails *prometheus.CounterVec // channel
}

// Results for the Escalations counter
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
)

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_frames_processed_total",
			Help: "Total number of video frames processed",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_detections_total",
			Help: "Total number of detections that passed the confidence filter",
		}),
		DetectorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_detector_errors_total",
			Help: "Total number of frames on which the object detector failed",
		}),
		LiveTracks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_live_tracks",
			Help: "Number of objects currently being tracked",
		}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_frame_duration_seconds",
			Help:    "Time taken to process one frame, including detection",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_escalations_total",
			Help: "Escalation attempts by anomaly type and result",
		}, []string{"type", "result"}),
		Suppressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_suppressions_total",
			Help: "Anomalies that were not escalated, by anomaly type and reason",
		}, []string{"type", "reason"}),
		ClipFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_clip_failures_total",
			Help: "Clip captures or uploads that failed",
		}),
		NotificationFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_notification_failures_total",
			Help: "Failures of secondary notification channels",
		}, []string{"channel"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FramesProcessed,
		m.Detections,
		m.DetectorErrors,
		m.LiveTracks,
		m.FrameDuration,
		m.Escalations,
		m.Suppressions,
		m.ClipFailures,
		m.NotificationFails,
	)
	return m
}

// RegisterPollErrors exposes a counter that is owned elsewhere
func (m *Metrics) RegisterPollErrors(count func() int64) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "edge_remote_poll_errors_total",
		Help: "Failed queries of the remote incident store",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
