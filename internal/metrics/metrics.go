package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solwind_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solwind_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solwind_fetch_total",
			Help: "Upstream fetch attempts by source and result.",
		},
		[]string{"source", "result"},
	)

	fetchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solwind_fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	cmeDatasetCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_cme_dataset_events",
			Help: "Number of CME events in the current dataset.",
		},
	)

	cmeDatasetAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_cme_dataset_age_seconds",
			Help: "Age of the current CME dataset in seconds.",
		},
	)

	solarWindSpeed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_solar_wind_speed_km_s",
			Help: "Latest ambient solar wind speed in km/s.",
		},
	)

	kpIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_kp_index",
			Help: "Latest planetary K-index.",
		},
	)

	propagationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solwind_propagation_duration_seconds",
			Help:    "Duration of a full-dataset keyframe propagation.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	propagationFrontsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solwind_propagation_fronts_total",
			Help: "CME fronts computed per keyframe, by state.",
		},
		[]string{"state"},
	)

	propagationWorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_propagation_workers_active",
			Help: "Configured propagation worker pool size.",
		},
	)

	cacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solwind_cache_hits_total",
			Help: "Keyframe cache hits.",
		},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solwind_cache_misses_total",
			Help: "Keyframe cache misses.",
		},
	)

	cacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solwind_cache_evictions_total",
			Help: "Keyframe cache entries evicted.",
		},
	)

	cacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_cache_entries",
			Help: "Keyframe cache entry count.",
		},
	)

	cacheSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_cache_size_bytes",
			Help: "Estimated keyframe cache memory footprint.",
		},
	)

	cacheRegenErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solwind_cache_regeneration_errors_total",
			Help: "Keyframe generation failures in the cache maintenance loop.",
		},
	)

	cacheRegenDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "solwind_cache_regeneration_duration_seconds",
			Help:    "Duration of cache keyframe regeneration.",
			Buckets: prometheus.DefBuckets,
		},
	)

	cacheGracePeriodActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_cache_grace_period_active",
			Help: "1 while a dataset cutover rebuild is in progress.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solwind_stream_connections_total",
			Help: "SSE stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_streams_active",
			Help: "Currently connected SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solwind_stream_errors_total",
			Help: "SSE stream errors by reason.",
		},
		[]string{"reason"},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solwind_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solwind_stream_bytes_total",
			Help: "SSE bytes written.",
		},
	)

	activeAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solwind_active_alerts",
			Help: "Currently active space-weather alerts.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		fetchTotal,
		fetchDurationSeconds,
		cmeDatasetCount,
		cmeDatasetAgeSeconds,
		solarWindSpeed,
		kpIndex,
		propagationDurationSeconds,
		propagationFrontsTotal,
		propagationWorkersActive,
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheEntries,
		cacheSizeBytes,
		cacheRegenErrorsTotal,
		cacheRegenDurationSeconds,
		cacheGracePeriodActive,
		streamConnectionsTotal,
		streamsActive,
		streamErrorsTotal,
		streamMessagesTotal,
		streamBytesTotal,
		activeAlerts,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFetch records one upstream fetch attempt.
func RecordFetch(source string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	fetchTotal.WithLabelValues(source, result).Inc()
	fetchDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// SetCMEDatasetCount sets the event count for the current dataset.
func SetCMEDatasetCount(n int) {
	cmeDatasetCount.Set(float64(n))
}

// SetCMEDatasetAge sets the current dataset age in seconds.
func SetCMEDatasetAge(seconds float64) {
	cmeDatasetAgeSeconds.Set(seconds)
}

// SetSolarWindSpeed sets the latest ambient solar wind speed gauge.
func SetSolarWindSpeed(kmPerSec float64) {
	solarWindSpeed.Set(kmPerSec)
}

// SetKpIndex sets the latest planetary K-index gauge.
func SetKpIndex(kp float64) {
	kpIndex.Set(kp)
}

// RecordPropagation records one full-dataset keyframe computation.
// visible counts fronts included in the keyframe; pending counts events not
// yet launched at the keyframe time.
func RecordPropagation(duration time.Duration, visible, pending int) {
	propagationDurationSeconds.Observe(duration.Seconds())
	propagationFrontsTotal.WithLabelValues("visible").Add(float64(visible))
	propagationFrontsTotal.WithLabelValues("pending").Add(float64(pending))
}

// SetPropagationWorkersActive sets the worker pool size gauge.
func SetPropagationWorkersActive(n int) {
	propagationWorkersActive.Set(float64(n))
}

// IncCacheHits increments the cache hit counter.
func IncCacheHits() { cacheHitsTotal.Inc() }

// IncCacheMisses increments the cache miss counter.
func IncCacheMisses() { cacheMissesTotal.Inc() }

// AddCacheEvictions adds to the eviction counter.
func AddCacheEvictions(n int) { cacheEvictionsTotal.Add(float64(n)) }

// SetCacheEntries sets the cache entry count gauge.
func SetCacheEntries(n int) { cacheEntries.Set(float64(n)) }

// SetCacheSizeBytes sets the estimated cache size gauge.
func SetCacheSizeBytes(n int64) { cacheSizeBytes.Set(float64(n)) }

// IncCacheRegenerationErrors increments the regeneration error counter.
func IncCacheRegenerationErrors() { cacheRegenErrorsTotal.Inc() }

// ObserveCacheRegenerationDuration records a regeneration duration.
func ObserveCacheRegenerationDuration(d time.Duration) {
	cacheRegenDurationSeconds.Observe(d.Seconds())
}

// SetCacheGracePeriodActive sets the cutover grace period gauge.
func SetCacheGracePeriodActive(active bool) {
	if active {
		cacheGracePeriodActive.Set(1)
	} else {
		cacheGracePeriodActive.Set(0)
	}
}

// IncStreamConnections records a stream connect/disconnect event.
func IncStreamConnections(event string) {
	streamConnectionsTotal.WithLabelValues(event).Inc()
}

// IncStreamsActive increments the active stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the active stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamErrors increments the stream error counter for a reason.
func IncStreamErrors(reason string) {
	streamErrorsTotal.WithLabelValues(reason).Inc()
}

// IncStreamMessages increments the stream message counter.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes adds to the stream byte counter.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// SetActiveAlerts sets the active alert gauge.
func SetActiveAlerts(n int) { activeAlerts.Set(float64(n)) }

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so SSE handlers keep working behind
// the middleware chain.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.URL.Path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(r.URL.Path, r.Method).Observe(duration)
	})
}
