// Package metrics provides Prometheus metrics for the gallery-sync server.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gallery_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Library metrics
	libraryFolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_library_folders",
			Help: "Number of folders in the served listing",
		},
	)

	libraryFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_library_files",
			Help: "Number of files in the served listing",
		},
	)

	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gallery_scan_duration_seconds",
			Help:    "Time to scan the gallery root",
			Buckets: prometheus.DefBuckets,
		},
	)

	scanErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_scan_errors_total",
			Help: "Total failed scans",
		},
	)

	changesAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_changes_applied_total",
			Help: "Total change batch entries applied, by action",
		},
		[]string{"action"},
	)

	watcherEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_watcher_events_total",
			Help: "Total filesystem events seen by the watcher",
		},
	)

	// Event push metrics
	subscribersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_event_subscribers_active",
			Help: "Number of connected event subscribers",
		},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_events_published_total",
			Help: "Total events published",
		},
		[]string{"type"},
	)

	eventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gallery_events_dropped_total",
			Help: "Total events dropped for slow subscribers",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetLibrarySize sets the folder and file gauges.
func SetLibrarySize(folders, files int) {
	libraryFolders.Set(float64(folders))
	libraryFiles.Set(float64(files))
}

// RecordScan records a scan's duration and outcome.
func RecordScan(duration time.Duration, success bool) {
	scanDuration.Observe(duration.Seconds())

	if !success {
		scanErrorsTotal.Inc()
	}
}

// RecordChanges records the entries of an applied change batch.
func RecordChanges(created, updated, removed int) {
	changesAppliedTotal.WithLabelValues("create").Add(float64(created))
	changesAppliedTotal.WithLabelValues("update").Add(float64(updated))
	changesAppliedTotal.WithLabelValues("remove").Add(float64(removed))
}

// RecordWatcherEvent records one filesystem event.
func RecordWatcherEvent() {
	watcherEventsTotal.Inc()
}

// SetSubscribersActive sets the number of connected event subscribers.
func SetSubscribersActive(count int) {
	subscribersActive.Set(float64(count))
}

// RecordEventPublished records an event publication.
func RecordEventPublished(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records an event dropped for a full subscriber.
func RecordEventDropped() {
	eventsDroppedTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}

	authAttemptsTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack is needed by the websocket upgrade on /Gallery/events.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}

	return h.Hijack()
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
