// Package metrics provides Prometheus metrics for the trackpick service.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// commitLatencyBuckets cover the 0-30s commit window plus fallbacks.
var commitLatencyBuckets = []float64{0.05, 0.25, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 120} //nolint:gochecknoglobals // bucket table

// Manager manages all Prometheus metrics for the trackpick service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Request lifecycle
	requestsSubmitted  prometheus.Counter
	requestsTerminal   *prometheus.CounterVec
	requestsByState    *prometheus.GaugeVec
	commits            *prometheus.CounterVec
	fallbacks          prometheus.Counter
	outcomes           *prometheus.CounterVec
	commitLatency      prometheus.Histogram
	idempotentReplays  prometheus.Counter
	candidatesIngested prometheus.Counter
	candidatesDropped  *prometheus.CounterVec
	shortlistEvictions prometheus.Counter

	// Outbox queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers and delivery
	workerCount      prometheus.Gauge
	workerActive     prometheus.Gauge
	deliveries       *prometheus.CounterVec
	deliveryDuration *prometheus.HistogramVec

	// Persistence
	journalBacklog  prometheus.Gauge
	journalWrites   *prometheus.CounterVec
	journalLatency  prometheus.Histogram
	repositoryCount prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "trackpick",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.requestsSubmitted = m.counter("requests_submitted_total", "Total number of track requests created")
	m.requestsTerminal = m.counterVec("requests_terminal_total", "Requests that reached a terminal state", "state")
	m.requestsByState = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "requests",
		Help:        "Current number of tracked requests by state",
		ConstLabels: m.constLabels,
	}, []string{"state"})
	m.commits = m.counterVec("commits_total", "Dispatch commits by trigger reason", "reason")
	m.fallbacks = m.counter("fallbacks_total", "Dispatches of the next shortlist entry after a failed attempt")
	m.outcomes = m.counterVec("outcomes_total", "Download outcomes reported by the client", "outcome")
	m.commitLatency = m.histogram("commit_latency_seconds", "Time from request creation to its first commit", commitLatencyBuckets)
	m.idempotentReplays = m.counter("idempotent_replays_total", "Submissions answered from the idempotency cache")
	m.candidatesIngested = m.counter("candidates_ingested_total", "Candidates scored and inserted into a shortlist")
	m.candidatesDropped = m.counterVec("candidates_dropped_total", "Candidates not inserted, by reason", "reason")
	m.shortlistEvictions = m.counter("shortlist_evictions_total", "Shortlist entries evicted by a higher scored candidate")

	m.queueSize = m.gauge("queue_size", "Current number of commands waiting in the outbox")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum outbox capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Commands accepted by the outbox")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Commands taken from the outbox")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Commands rejected by a full or closed outbox")

	m.workerCount = m.gauge("worker_count", "Configured number of delivery workers")
	m.workerActive = m.gauge("worker_active", "Workers currently delivering a command")
	m.deliveries = m.counterVec("deliveries_total", "Command deliveries by kind and status", "kind", "status")
	m.deliveryDuration = m.histogramVec("delivery_duration_seconds", "Command delivery duration", "kind")

	m.journalBacklog = m.gauge("journal_backlog", "Request snapshots waiting to be persisted")
	m.journalWrites = m.counterVec("journal_writes_total", "Persistence operations by op and status", "op", "status")
	m.journalLatency = m.histogram("journal_flush_seconds", "Duration of one journal flush", m.histogramBuckets)
	m.repositoryCount = m.gauge("repository_records", "Requests held in memory, live and terminal")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_seconds", "HTTP request duration in seconds",
		"endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")
}

// Request lifecycle.

// RecordRequestSubmitted increments the submitted requests counter.
func RecordRequestSubmitted() {
	globalManager.requestsSubmitted.Inc()
}

// RecordRequestTerminal counts a request reaching the given terminal state.
func RecordRequestTerminal(state string) {
	globalManager.requestsTerminal.WithLabelValues(state).Inc()
}

// UpdateRequestsByState sets the number of requests currently in state.
func UpdateRequestsByState(state string, count int) {
	globalManager.requestsByState.WithLabelValues(state).Set(float64(count))
}

// RecordCommit counts a commit with its trigger reason.
func RecordCommit(reason string) {
	globalManager.commits.WithLabelValues(reason).Inc()
}

// RecordFallback counts a dispatch of the next candidate after a failure.
func RecordFallback() {
	globalManager.fallbacks.Inc()
}

// RecordOutcome counts a reported download outcome.
func RecordOutcome(outcome string) {
	globalManager.outcomes.WithLabelValues(outcome).Inc()
}

// RecordCommitLatency records seconds between creation and first commit.
func RecordCommitLatency(seconds float64) {
	globalManager.commitLatency.Observe(seconds)
}

// RecordIdempotentReplay counts a submission answered with an existing id.
func RecordIdempotentReplay() {
	globalManager.idempotentReplays.Inc()
}

// RecordCandidateIngested counts a candidate inserted into a shortlist.
func RecordCandidateIngested() {
	globalManager.candidatesIngested.Inc()
}

// RecordCandidateDropped counts a candidate that was not inserted.
func RecordCandidateDropped(reason string) {
	globalManager.candidatesDropped.WithLabelValues(reason).Inc()
}

// RecordShortlistEviction counts an evicted shortlist entry.
func RecordShortlistEviction() {
	globalManager.shortlistEvictions.Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActive.Set(float64(count))
}

// RecordDelivery counts one command delivery.
func RecordDelivery(kind, status string, seconds float64) {
	globalManager.deliveries.WithLabelValues(kind, status).Inc()
	globalManager.deliveryDuration.WithLabelValues(kind).Observe(seconds)
}

// Persistence Metrics Functions.

// UpdateJournalBacklog sets the number of unflushed snapshots.
func UpdateJournalBacklog(count int) {
	globalManager.journalBacklog.Set(float64(count))
}

// RecordJournalWrite counts a persistence operation.
func RecordJournalWrite(op, status string) {
	globalManager.journalWrites.WithLabelValues(op, status).Inc()
}

// RecordJournalFlush records the duration of one flush.
func RecordJournalFlush(seconds float64) {
	globalManager.journalLatency.Observe(seconds)
}

// UpdateRepositoryRecords sets the number of requests held in memory.
func UpdateRepositoryRecords(count int) {
	globalManager.repositoryCount.Set(float64(count))
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, seconds float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(seconds)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RegisterRuntimeCollectors adds the Go runtime and process collectors to
// reg. Collectors already registered are left alone.
func RegisterRuntimeCollectors(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
