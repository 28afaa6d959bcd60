package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlverezYari/finecam/internal/capture"
)

// metrics is per server so tests can run several side by side.
type metrics struct {
	registry *prometheus.Registry

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cameraOps       *prometheus.CounterVec
	previewFrames   prometheus.Counter
}

func newMetrics(s *Server) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		requestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finecam_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "finecam_http_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),
		cameraOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finecam_camera_operations_total",
				Help: "Capture and save attempts by result",
			},
			[]string{"operation", "result"},
		),
		previewFrames: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "finecam_preview_frames_total",
				Help: "Preview frames broadcast to websocket clients",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "finecam_preview_clients",
			Help: "Connected preview websockets",
		},
		func() float64 { return float64(s.Clients()) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "finecam_camera_streaming",
			Help: "1 while a camera stream is held",
		},
		func() float64 {
			switch s.camera.Snapshot().State {
			case capture.StateStreaming, capture.StateEditing:
				return 1
			}
			return 0
		},
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeRequest(r *http.Request, status int, elapsed time.Duration) {
	endpoint := "unmatched"
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			endpoint = tpl
		}
	}
	m.requestCount.WithLabelValues(r.Method, endpoint, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
}

func (m *metrics) cameraOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cameraOps.WithLabelValues(op, result).Inc()
}
