// Package metrics exposes Prometheus instrumentation for the propagation
// pipeline and the debug HTTP server.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitsync_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbitsync_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	propagationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitsync_propagation_duration_seconds",
		Help:    "Worker time to propagate one full batch.",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	propagationObjects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbitsync_propagation_objects_total",
			Help: "Objects propagated, by result.",
		},
		[]string{"result"},
	)

	chunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitsync_propagation_chunks_total",
		Help: "Chunks streamed by the worker.",
	})

	requestsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitsync_requests_rejected_total",
		Help: "Propagation requests rejected because one was already in flight.",
	})

	staleMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitsync_stale_messages_total",
		Help: "Worker replies dropped because they belong to an older request.",
	})

	workerRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitsync_worker_restarts_total",
		Help: "Propagation workers replaced after a stall, crash, or dataset switch.",
	})

	roundTripSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitsync_round_trip_seconds",
		Help:    "Observed request-to-completion latency.",
		Buckets: []float64{.005, .01, .025, .05, .1, .2, .4, .8, 1.6},
	})

	latencyEMA = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_latency_ema_ms",
		Help: "Smoothed round-trip latency estimate.",
	})

	leadMs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_lead_ms",
		Help: "Lead time added to the last requested target time.",
	})

	leadFactor = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_lead_factor",
		Help: "Adaptive multiplier applied to the latency estimate.",
	})

	predictionAge = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbitsync_prediction_age_ms",
		Help:    "Arrival time minus requested target time.",
		Buckets: []float64{-200, -100, -50, -25, 0, 25, 50, 100, 200},
	})

	framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbitsync_frames_total",
		Help: "Render ticks processed.",
	})

	labelsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_labels_active",
		Help: "Label entries alive, including fading ones.",
	})

	cameraMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_camera_mode",
		Help: "Camera view state: 0 global, 1 transitioning, 2 tracking.",
	})

	objectCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_objects",
		Help: "Objects in the active dataset.",
	})

	datasetAge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_dataset_age_seconds",
		Help: "Seconds since the active dataset was loaded.",
	})

	streamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbitsync_stream_clients",
		Help: "Connected debug stream clients.",
	})

	streamMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbitsync_stream_messages_total",
		Help: "Debug stream messages by outcome.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		propagationDuration,
		propagationObjects,
		chunksTotal,
		requestsRejected,
		staleMessages,
		workerRestarts,
		roundTripSeconds,
		latencyEMA,
		leadMs,
		leadFactor,
		predictionAge,
		framesTotal,
		labelsActive,
		cameraMode,
		objectCount,
		datasetAge,
		streamClients,
		streamMessages,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPropagation records one worker batch.
func RecordPropagation(d time.Duration, success, errors int) {
	propagationDuration.Observe(d.Seconds())
	propagationObjects.WithLabelValues("success").Add(float64(success))
	propagationObjects.WithLabelValues("error").Add(float64(errors))
}

func IncChunks()           { chunksTotal.Inc() }
func IncRequestsRejected() { requestsRejected.Inc() }
func IncStaleMessages()    { staleMessages.Inc() }
func IncWorkerRestarts()   { workerRestarts.Inc() }
func IncFrames()           { framesTotal.Inc() }

// RecordRoundTrip records a completed request and the scheduler state it produced.
func RecordRoundTrip(observed time.Duration, ageMs, emaMs, factor float64) {
	roundTripSeconds.Observe(observed.Seconds())
	predictionAge.Observe(ageMs)
	latencyEMA.Set(emaMs)
	leadFactor.Set(factor)
}

func SetLeadMs(ms float64)          { leadMs.Set(ms) }
func SetLabelsActive(n int)         { labelsActive.Set(float64(n)) }
func SetCameraMode(mode int)        { cameraMode.Set(float64(mode)) }
func SetObjectCount(n int)          { objectCount.Set(float64(n)) }
func SetDatasetAge(seconds float64) { datasetAge.Set(seconds) }
func IncStreamClients()             { streamClients.Inc() }
func DecStreamClients()             { streamClients.Dec() }

// IncStreamMessages counts a debug stream outcome: sent, rejected, or error.
func IncStreamMessages(result string) { streamMessages.WithLabelValues(result).Inc() }

// knownRoutes are recorded under their own path label; anything else is
// collapsed to "other" to bound label cardinality.
var knownRoutes = map[string]bool{
	"/":               true,
	"/healthz":        true,
	"/readyz":         true,
	"/metrics":        true,
	"/debug/snapshot": true,
	"/debug/stream":   true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader and records the
// request as switching protocols.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(rw.ResponseWriter).Hijack()
	if err == nil {
		rw.statusCode = http.StatusSwitchingProtocols
	}
	return conn, brw, err
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}
