package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docchat"

type HTTPServerMetrics struct {
	service  string
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	uploadsTotal     *prometheus.CounterVec
	uploadBytes      *prometheus.HistogramVec
	contextChars     *prometheus.HistogramVec
	chatTotal        *prometheus.CounterVec
	chatDuration     *prometheus.HistogramVec
	llmTokensTotal   *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	sweptUploads     prometheus.Counter
	sweepErrorsTotal prometheus.Counter
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &HTTPServerMetrics{
		service:  service,
		registry: registry,
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "requests_total",
				Help:        "Total HTTP requests processed.",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "request_duration_seconds",
				Help:        "HTTP request duration in seconds.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"method", "path"},
		),
		requestInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "in_flight_requests",
				Help:        "Number of in-flight HTTP requests.",
				ConstLabels: constLabels,
			},
		),
		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "upload",
				Name:        "total",
				Help:        "Uploads by detected format and outcome.",
				ConstLabels: constLabels,
			},
			[]string{"format", "status"},
		),
		uploadBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "upload",
				Name:        "size_bytes",
				Help:        "Size of accepted uploads.",
				Buckets:     prometheus.ExponentialBuckets(1024, 4, 9),
				ConstLabels: constLabels,
			},
			[]string{"format"},
		),
		contextChars: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "upload",
				Name:        "context_chars",
				Help:        "Characters of document context kept per upload.",
				Buckets:     []float64{0, 100, 500, 1000, 2000, 3000, 4000},
				ConstLabels: constLabels,
			},
			[]string{"format"},
		),
		chatTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "chat",
				Name:        "requests_total",
				Help:        "Chat turns by outcome.",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		chatDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "chat",
				Name:        "duration_seconds",
				Help:        "Chat turn duration including the completion call.",
				Buckets:     []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		llmTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "llm",
				Name:        "tokens_total",
				Help:        "Token usage reported by the completion API.",
				ConstLabels: constLabels,
			},
			[]string{"direction", "model"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "resilience",
				Name:        "breaker_state",
				Help:        "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
				ConstLabels: constLabels,
			},
			[]string{"operation"},
		),
		sweptUploads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "retention",
				Name:        "swept_uploads_total",
				Help:        "Stored uploads deleted by the retention sweeper.",
				ConstLabels: constLabels,
			},
		),
		sweepErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "retention",
				Name:        "sweep_errors_total",
				Help:        "Retention sweeps that failed.",
				ConstLabels: constLabels,
			},
		),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
		m.uploadsTotal,
		m.uploadBytes,
		m.contextChars,
		m.chatTotal,
		m.chatDuration,
		m.llmTokensTotal,
		m.breakerState,
		m.sweptUploads,
		m.sweepErrorsTotal,
	)
	return m
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument wraps a single route so the path label stays bounded.
func (m *HTTPServerMetrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) RecordUpload(format, status string, sizeBytes int64, contextChars int) {
	if format == "" {
		format = "unknown"
	}
	m.uploadsTotal.WithLabelValues(format, status).Inc()
	if status != "ready" {
		return
	}
	m.uploadBytes.WithLabelValues(format).Observe(float64(sizeBytes))
	m.contextChars.WithLabelValues(format).Observe(float64(contextChars))
}

func (m *HTTPServerMetrics) RecordChat(status string, duration time.Duration) {
	m.chatTotal.WithLabelValues(status).Inc()
	m.chatDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordTokenUsage(model string, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	if promptTokens > 0 {
		m.llmTokensTotal.WithLabelValues("in", model).Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmTokensTotal.WithLabelValues("out", model).Add(float64(completionTokens))
	}
}

// SetBreakerState takes the gobreaker state ordinal (closed, half-open, open).
func (m *HTTPServerMetrics) SetBreakerState(operation string, state int) {
	m.breakerState.WithLabelValues(operation).Set(float64(state))
}

func (m *HTTPServerMetrics) RecordSweep(removed int, err error) {
	if err != nil {
		m.sweepErrorsTotal.Inc()
	}
	if removed > 0 {
		m.sweptUploads.Add(float64(removed))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
