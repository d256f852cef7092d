// Package metrics provides Prometheus metrics for the SiteVault server.
package metrics

import (
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
			Name: "sitevault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitevault_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Content transfer metrics
	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitevault_content_bytes_downloaded_total",
			Help: "Total bytes served by the download endpoint",
		},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitevault_content_bytes_uploaded_total",
			Help: "Total bytes accepted by the upload endpoints",
		},
	)

	contentDownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitevault_content_downloads_total",
			Help: "Total number of content downloads",
		},
		[]string{"status"},
	)

	contentUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitevault_content_uploads_total",
			Help: "Total number of content uploads",
		},
		[]string{"status"},
	)

	// Download cache metrics
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitevault_cache_lookups_total",
			Help: "Download cache lookups by result",
		},
		[]string{"result"}, // hit, miss, expired
	)

	cacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitevault_cache_bytes",
			Help: "Current aggregate size of cached file content",
		},
	)

	// Versioning / trash metrics
	versionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitevault_versions_created_total",
			Help: "Total file versions captured on overwrite",
		},
	)

	trashOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitevault_trash_operations_total",
			Help: "Trash operations by kind",
		},
		[]string{"op"}, // delete, restore, purge
	)

	// Chunked upload metrics
	chunksReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitevault_chunks_received_total",
			Help: "Total upload chunks received",
		},
	)

	chunkAssembliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitevault_chunk_assemblies_total",
			Help: "Chunked upload assembly attempts",
		},
		[]string{"status"},
	)

	// Share link metrics
	shareLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitevault_share_links_active",
			Help: "Number of unexpired, unrevoked share links",
		},
	)

	shareDownloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitevault_share_downloads_total",
			Help: "Total downloads served through share links",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitevault_auth_attempts_total",
			Help: "Authentication attempts by result",
		},
		[]string{"result"},
	)

	// Database metrics
	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitevault_db_connections_open",
			Help: "Open database connections",
		},
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

// RecordContentDownload records a content download.
func RecordContentDownload(bytes int64, success bool) {
	contentBytesDownloaded.Add(float64(bytes))
	contentDownloadsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordContentUpload records a content upload.
func RecordContentUpload(bytes int64, success bool) {
	contentBytesUploaded.Add(float64(bytes))
	contentUploadsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordCacheLookup records a download cache lookup result.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetCacheBytes sets the current cache size gauge.
func SetCacheBytes(n int64) {
	cacheBytes.Set(float64(n))
}

// RecordVersionCreated records a version snapshot taken on overwrite.
func RecordVersionCreated() {
	versionsCreatedTotal.Inc()
}

// RecordTrashOperation records a trash operation ("delete", "restore", "purge").
func RecordTrashOperation(op string) {
	trashOperationsTotal.WithLabelValues(op).Inc()
}

// RecordChunkReceived records a received upload chunk.
func RecordChunkReceived() {
	chunksReceivedTotal.Inc()
}

// RecordChunkAssembly records a chunked upload assembly attempt.
func RecordChunkAssembly(success bool) {
	chunkAssembliesTotal.WithLabelValues(outcome(success)).Inc()
}

// SetShareLinksActive sets the active share link gauge.
func SetShareLinksActive(count int64) {
	shareLinksActive.Set(float64(count))
}

// RecordShareDownload records a download through a share link.
func RecordShareDownload() {
	shareDownloadsTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(outcome(success)).Inc()
}

// SetDBConnectionsOpen sets the open database connection gauge.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
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

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
