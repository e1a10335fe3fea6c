package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Ingestion Metrics
	IngestionRecordsTotal *prometheus.CounterVec
	IngestionErrorsTotal  *prometheus.CounterVec
	IngestionBatchSize    prometheus.Histogram
	IngestionDuration     prometheus.Histogram

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// Domain services
	AuthRejectionsTotal     *prometheus.CounterVec
	QueryFallbacksTotal     *prometheus.CounterVec
	RecordsDeletedTotal     *prometheus.CounterVec
	ForecastPatchTotal      *prometheus.CounterVec
	ProvisioningResultTotal *prometheus.CounterVec

	// Response cache
	CacheRequestsTotal *prometheus.CounterVec

	// Request accounting
	AccountingFailuresTotal *prometheus.CounterVec

	// Notification sink
	NotificationsTotal *prometheus.CounterVec
	NotificationQueue  prometheus.Gauge

	// Inference
	InferenceDuration      prometheus.Histogram
	InferenceWindowsTotal  prometheus.Counter
	InferenceFailuresTotal prometheus.Counter
}

// NewCollector creates a collector registered with the default Prometheus registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector registered with reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not panic.
func NewCollectorWithRegistry(namespace string, reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		IngestionRecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_records_total",
				Help:      "Total number of AQI records inserted by collection",
			},
			[]string{"collection"},
		),

		IngestionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_errors_total",
				Help:      "Total number of ingestion errors by type",
			},
			[]string{"error_type"},
		),

		IngestionBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_batch_size",
				Help:      "Number of records per bulk insert",
				Buckets:   []float64{1, 10, 50, 100, 500, 1000, 5000, 10000},
			},
		),

		IngestionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "Duration of a full ingestion run in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		AuthRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_rejections_total",
				Help:      "Token checks that denied access, by reason",
			},
			[]string{"reason"},
		),

		QueryFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_fallbacks_total",
				Help:      "Queries answered with the default range because parameters were invalid",
			},
			[]string{"endpoint"},
		),

		RecordsDeletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_deleted_total",
				Help:      "AQI records removed by collection",
			},
			[]string{"collection"},
		),

		ForecastPatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecast_patch_entries_total",
				Help:      "Forecast patch entries by list (predictions, actual) and result (matched, missed)",
			},
			[]string{"list", "result"},
		),

		ProvisioningResultTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisioning_results_total",
				Help:      "Token requests by outcome (created, reminded, cooldown, race, duplicate)",
			},
			[]string{"outcome"},
		),

		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_cache_requests_total",
				Help:      "Response cache lookups by result (hit, miss, error)",
			},
			[]string{"result"},
		),

		AccountingFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accounting_failures_total",
				Help:      "Request accounting writes that failed, by sink",
			},
			[]string{"sink"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Token emails by outcome (sent, failed, dropped)",
			},
			[]string{"outcome"},
		),

		NotificationQueue: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_queue_depth",
				Help:      "Token emails waiting for a worker",
			},
		),

		InferenceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Forecast model call duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
			},
		),

		InferenceWindowsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_windows_total",
				Help:      "Number of 30-day windows sent to the forecast model",
			},
		),

		InferenceFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_failures_total",
				Help:      "Forecast model calls that failed or returned a malformed response",
			},
		),
	}
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordIngestionError increments ingestion error counter
func (c *Collector) RecordIngestionError(errorType string) {
	c.IngestionErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordAuthRejection counts a denied token check
func (c *Collector) RecordAuthRejection(reason string) {
	c.AuthRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordForecastPatch counts the matched and missed entries of one patch list
func (c *Collector) RecordForecastPatch(list string, matched, requested int) {
	c.ForecastPatchTotal.WithLabelValues(list, "matched").Add(float64(matched))
	c.ForecastPatchTotal.WithLabelValues(list, "missed").Add(float64(requested - matched))
}

// RecordProvisioning counts a token request outcome
func (c *Collector) RecordProvisioning(outcome string) {
	c.ProvisioningResultTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheResult counts a response cache lookup
func (c *Collector) RecordCacheResult(result string) {
	c.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordAccountingFailure counts a dropped request accounting record
func (c *Collector) RecordAccountingFailure(sink string) {
	c.AccountingFailuresTotal.WithLabelValues(sink).Inc()
}

// RecordNotification counts a token email outcome
func (c *Collector) RecordNotification(outcome string) {
	c.NotificationsTotal.WithLabelValues(outcome).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
