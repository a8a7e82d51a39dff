// Package metrics provides Prometheus instrumentation for refract: job and
// byte counters fed by transcode jobs, and HTTP request metrics for the API.
//
// All metrics are prefixed with "refract_". Metrics are registered on the
// Registerer passed to New so tests can use an isolated registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/refract/internal/transcode"
)

// Metrics holds every refract collector. It implements
// transcode.StatsRecorder.
type Metrics struct {
	BytesIn    prometheus.Counter
	BytesOut   prometheus.Counter
	Packets    *prometheus.CounterVec
	Jobs       *prometheus.CounterVec
	ActiveJobs prometheus.Gauge

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

var _ transcode.StatsRecorder = (*Metrics)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BytesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "refract_input_bytes_total",
			Help: "Total bytes pushed into transcode jobs",
		}),
		BytesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "refract_output_bytes_total",
			Help: "Total muxed bytes produced by transcode jobs",
		}),
		Packets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refract_packets_total",
			Help: "Packets and frames handled per pipeline stage",
		}, []string{"stage"}),
		Jobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refract_jobs_total",
			Help: "Finished transcode jobs by terminal state and error kind",
		}, []string{"state", "kind"}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "refract_jobs_active",
			Help: "Number of transcode jobs currently running",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "refract_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "refract_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "refract_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
	}
}

func (m *Metrics) RecordInput(n int)  { m.BytesIn.Add(float64(n)) }
func (m *Metrics) RecordOutput(n int) { m.BytesOut.Add(float64(n)) }

func (m *Metrics) RecordPacket(stage string) {
	m.Packets.WithLabelValues(stage).Inc()
}

// RecordTerminal counts a finished job. Done jobs carry the kind "none".
func (m *Metrics) RecordTerminal(state transcode.State, kind transcode.Kind) {
	label := "none"
	if state == transcode.StateFailed {
		label = kind.Label()
	}
	m.Jobs.WithLabelValues(state.String(), label).Inc()
}

// JobStarted and JobFinished track the active job gauge.
func (m *Metrics) JobStarted()  { m.ActiveJobs.Inc() }
func (m *Metrics) JobFinished() { m.ActiveJobs.Dec() }

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach Flush and full duplex support.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Middleware records request metrics labeled by the matched route template,
// or "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
