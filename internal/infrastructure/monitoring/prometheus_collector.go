package monitoring

import (
	"facestream/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports pipeline and session observations.
type PrometheusCollector struct {
	handlesActive prometheus.Gauge
	handlesOpened prometheus.Counter
	handlesClosed *prometheus.CounterVec

	viewersActive *prometheus.GaugeVec
	framesSent    *prometheus.CounterVec
	bytesSent     *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
	frameSize     prometheus.Histogram

	sessionsEnded *prometheus.CounterVec
	loginAttempts *prometheus.CounterVec
}

// NewPrometheusCollector registers its metrics with reg. A nil reg uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		handlesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facestream_camera_handles_active",
			Help: "Number of open camera pipelines",
		}),

		handlesOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "facestream_camera_handles_opened_total",
			Help: "Total number of camera pipelines opened",
		}),

		handlesClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facestream_camera_handles_closed_total",
			Help: "Total number of camera pipelines closed, by reason",
		}, []string{"reason"}),

		viewersActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "facestream_viewers_active",
			Help: "Number of viewers attached to each camera",
		}, []string{"camera_id"}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facestream_frames_sent_total",
			Help: "Frames delivered to viewers",
		}, []string{"camera_id"}),

		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facestream_bytes_sent_total",
			Help: "Frame payload bytes delivered to viewers",
		}, []string{"camera_id"}),

		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facestream_frames_dropped_total",
			Help: "Frames discarded because a viewer fell behind",
		}, []string{"camera_id"}),

		frameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "facestream_frame_size_bytes",
			Help:    "Size of delivered frames",
			Buckets: prometheus.ExponentialBuckets(4096, 2, 10),
		}),

		sessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facestream_sessions_ended_total",
			Help: "Stream sessions ended, by termination cause",
		}, []string{"cause"}),

		loginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facestream_login_attempts_total",
			Help: "Login attempts, by outcome",
		}, []string{"outcome"}),
	}
}

func (p *PrometheusCollector) HandleOpened(cameraID domain.CameraID) {
	p.handlesActive.Inc()
	p.handlesOpened.Inc()
}

func (p *PrometheusCollector) HandleClosed(cameraID domain.CameraID, reason string) {
	p.handlesActive.Dec()
	p.handlesClosed.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ViewerJoined(cameraID domain.CameraID) {
	p.viewersActive.WithLabelValues(cameraID.String()).Inc()
}

func (p *PrometheusCollector) ViewerLeft(cameraID domain.CameraID) {
	p.viewersActive.WithLabelValues(cameraID.String()).Dec()
}

func (p *PrometheusCollector) FrameSent(cameraID domain.CameraID, bytes int) {
	id := cameraID.String()
	p.framesSent.WithLabelValues(id).Inc()
	p.bytesSent.WithLabelValues(id).Add(float64(bytes))
	p.frameSize.Observe(float64(bytes))
}

func (p *PrometheusCollector) FramesDropped(cameraID domain.CameraID, n int) {
	p.framesDropped.WithLabelValues(cameraID.String()).Add(float64(n))
}

func (p *PrometheusCollector) SessionEnded(cameraID domain.CameraID, cause domain.SessionState) {
	p.sessionsEnded.WithLabelValues(cause.String()).Inc()
}

func (p *PrometheusCollector) LoginAttempt(outcome string) {
	p.loginAttempts.WithLabelValues(outcome).Inc()
}
