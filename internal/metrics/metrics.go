package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons for inner detection ticks.
const (
	SkipNotReady  = "not_ready"
	SkipBusy      = "busy"
	SkipNotLoaded = "model_not_loaded"
)

// Acquisition results.
const (
	AcquirePrimary  = "primary"
	AcquireFallback = "fallback"
	AcquireFailed   = "failed"
)

// Metrics holds all application metrics
type Metrics struct {
	Detections      prometheus.Counter
	TargetDetected  prometheus.Counter
	DetectionErrors prometheus.Counter
	StaleResults    prometheus.Counter
	SkippedTicks    *prometheus.CounterVec
	InferenceTime   prometheus.Histogram

	CycleToggles prometheus.Counter
	CycleActive  prometheus.Gauge

	CameraAcquisitions *prometheus.CounterVec
	CameraReleases     prometheus.Counter
	StreamOpen         prometheus.Gauge

	Viewers      prometheus.Gauge
	MJPEGClients prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catwatch_detections_total",
			Help: "Detection calls that returned predictions",
		}),
		TargetDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catwatch_target_detected_total",
			Help: "Detections in which the target class crossed the threshold",
		}),
		DetectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catwatch_detection_errors_total",
			Help: "Detection calls that failed",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catwatch_stale_results_total",
			Help: "Detection results discarded because the cycle moved on",
		}),
		SkippedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catwatch_skipped_ticks_total",
			Help: "Inner detection ticks that did not start a detection",
		}, []string{"reason"}),
		InferenceTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catwatch_inference_seconds",
			Help:    "Detector latency per call",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		CycleToggles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catwatch_cycle_toggles_total",
			Help: "Active/idle flips of the detection cycle",
		}),
		CycleActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catwatch_cycle_active",
			Help: "1 while the detection cycle is active",
		}),
		CameraAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catwatch_camera_acquisitions_total",
			Help: "Camera acquisition attempts by outcome",
		}, []string{"result"}),
		CameraReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catwatch_camera_releases_total",
			Help: "Camera streams released",
		}),
		StreamOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catwatch_camera_stream_open",
			Help: "1 while a camera stream is held",
		}),
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catwatch_viewers",
			Help: "Connected viewer pages",
		}),
		MJPEGClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catwatch_mjpeg_clients",
			Help: "Open MJPEG video streams",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Detections,
		m.TargetDetected,
		m.DetectionErrors,
		m.StaleResults,
		m.SkippedTicks,
		m.InferenceTime,
		m.CycleToggles,
		m.CycleActive,
		m.CameraAcquisitions,
		m.CameraReleases,
		m.StreamOpen,
		m.Viewers,
		m.MJPEGClients,
		collectors.NewGoCollector(),
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
