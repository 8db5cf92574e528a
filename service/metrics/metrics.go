package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Contract Metrics
	contractCallsTotal       *prometheus.CounterVec
	contractCallDuration     *prometheus.HistogramVec
	confirmationWaitDuration *prometheus.HistogramVec

	// Content Store Metrics
	storageOperationsTotal   *prometheus.CounterVec
	storageOperationDuration *prometheus.HistogramVec
	storageUploadBytes       *prometheus.HistogramVec

	// Marketplace Metrics
	walletConnectionsTotal *prometheus.CounterVec
	listingsCreatedTotal   *prometheus.CounterVec
	marketItemsFetched     *prometheus.CounterVec
	fetchAllDuration       prometheus.Histogram

	// Workflow Metrics
	workflowExecutionsTotal *prometheus.CounterVec
	workflowDuration        *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Contract Metrics
		contractCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_contract_calls_total",
				Help: "Total number of marketplace contract calls by method and status",
			},
			[]string{"method", "status"},
		),
		contractCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "market_contract_call_duration_seconds",
				Help:    "Duration of marketplace contract calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		confirmationWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "market_confirmation_wait_seconds",
				Help:    "Time spent waiting for a transaction receipt",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"method", "status"},
		),

		// Content Store Metrics
		storageOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_store_operations_total",
				Help: "Total number of content store operations by op and status",
			},
			[]string{"op", "status"},
		),
		storageOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "content_store_operation_duration_seconds",
				Help:    "Duration of content store operations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"op"},
		),
		storageUploadBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "content_store_upload_bytes",
				Help:    "Size of payloads uploaded to the content store",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"op"},
		),

		// Marketplace Metrics
		walletConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_connections_total",
				Help: "Total number of wallet connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		listingsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_listings_submitted_total",
				Help: "Total number of listing submissions by kind and status",
			},
			[]string{"kind", "status"},
		),
		marketItemsFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "market_items_fetched_total",
				Help: "Total number of market items reconciled, by status",
			},
			[]string{"status"},
		),
		fetchAllDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "market_fetch_all_duration_seconds",
				Help:    "Duration of a full fetch-and-reconcile pass",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		// Workflow Metrics
		workflowExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listing_workflow_executions_total",
				Help: "Total number of durable create-listing workflow activities by status",
			},
			[]string{"activity", "status"},
		),
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listing_workflow_activity_duration_seconds",
				Help:    "Duration of durable create-listing activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"activity"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Contract metric helpers

// RecordContractCall records a contract call with duration.
func (m *Metrics) RecordContractCall(method string, duration float64, err error) {
	if m == nil {
		return
	}
	m.contractCallsTotal.WithLabelValues(method, statusOf(err)).Inc()
	m.contractCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordConfirmationWait records how long a write waited for its receipt.
func (m *Metrics) RecordConfirmationWait(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.confirmationWaitDuration.WithLabelValues(method, status).Observe(duration)
}

// Content store metric helpers

// RecordStorageOperation records a content store operation with duration.
func (m *Metrics) RecordStorageOperation(op string, duration float64, err error) {
	if m == nil {
		return
	}
	m.storageOperationsTotal.WithLabelValues(op, statusOf(err)).Inc()
	m.storageOperationDuration.WithLabelValues(op).Observe(duration)
}

// RecordUploadSize records the size of an uploaded payload.
func (m *Metrics) RecordUploadSize(op string, size int) {
	if m == nil {
		return
	}
	m.storageUploadBytes.WithLabelValues(op).Observe(float64(size))
}

// Marketplace metric helpers

// RecordWalletConnection records the outcome of a connect attempt.
func (m *Metrics) RecordWalletConnection(outcome string) {
	if m == nil {
		return
	}
	m.walletConnectionsTotal.WithLabelValues(outcome).Inc()
}

// RecordListingSubmitted records a create or resale submission.
func (m *Metrics) RecordListingSubmitted(kind string, err error) {
	if m == nil {
		return
	}
	m.listingsCreatedTotal.WithLabelValues(kind, statusOf(err)).Inc()
}

// RecordMarketItems records reconciled items split by outcome.
func (m *Metrics) RecordMarketItems(ok, failed int, duration float64) {
	if m == nil {
		return
	}
	m.marketItemsFetched.WithLabelValues("success").Add(float64(ok))
	m.marketItemsFetched.WithLabelValues("error").Add(float64(failed))
	m.fetchAllDuration.Observe(duration)
}

// Workflow metric helpers

// RecordActivity records a durable workflow activity execution.
func (m *Metrics) RecordActivity(activity string, duration float64, err error) {
	if m == nil {
		return
	}
	m.workflowExecutionsTotal.WithLabelValues(activity, statusOf(err)).Inc()
	m.workflowDuration.WithLabelValues(activity).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	if m == nil {
		return
	}
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(eventType string) {
	if m == nil {
		return
	}
	m.sseEventsSent.WithLabelValues(eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject string, duration float64, err error) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, statusOf(err)).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
