package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eeg_ready",
		Help: "1 when every backing store answered the last readiness probe.",
	})

	usersProvisioned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "eeg_users_provisioned_total",
		Help: "Accounts created through the provisioning endpoint.",
	})

	fileAssignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eeg_file_assignments_total",
			Help: "File assignment requests by outcome.",
		},
		[]string{"outcome"},
	)

	logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eeg_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	peakDetection = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "eeg_peak_detection_duration_seconds",
			Help:    "Wall time of peak detection runs by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"outcome"},
	)
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		ready, usersProvisioned, fileAssignments, logins, peakDetection,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight count, totals and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses per-file download paths so label cardinality stays
// bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(p, "/download/"); ok && rest != "" {
		return "/download/:fileName"
	}
	return p
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

func ObserveProvisioned() { usersProvisioned.Inc() }

func ObserveAssignment(outcome string) { fileAssignments.WithLabelValues(outcome).Inc() }

func ObserveLogin(outcome string) { logins.WithLabelValues(outcome).Inc() }

func ObservePeakDetection(outcome string, d time.Duration) {
	peakDetection.WithLabelValues(outcome).Observe(d.Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
