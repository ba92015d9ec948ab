package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/jobwork-ledger/jobwork"
	"github.com/warp/jobwork-ledger/payment"
	"github.com/warp/jobwork-ledger/voucher"
)

// Metric names.
const (
	MetricVouchersCreated    = "jobwork_vouchers_created_total"
	MetricEventsAppended     = "jobwork_events_appended_total"
	MetricPaymentsRecorded   = "jobwork_payments_recorded_total"
	MetricCacheDivergences   = "jobwork_cache_divergences_total"
	MetricUnattributed       = "jobwork_unattributed_records_total"
	MetricSenderHeuristic    = "jobwork_sender_heuristic_total"
	MetricHTTPRequests       = "jobwork_http_requests_total"
	MetricHTTPDurationSecond = "jobwork_http_request_duration_seconds"
)

// Metrics holds the service's Prometheus collectors on a private registry.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type Metrics struct {
	registry *prometheus.Registry

	vouchersCreated  prometheus.Counter
	eventsAppended   *prometheus.CounterVec
	paymentsRecorded prometheus.Counter
	cacheDivergences *prometheus.CounterVec
	unattributed     *prometheus.CounterVec
	senderHeuristic  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ jobwork.Recorder = (*Metrics)(nil)

// NewMetrics registers all collectors plus the Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		vouchersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVouchersCreated,
			Help: "Vouchers created.",
		}),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsAppended,
			Help: "Events appended to vouchers, by event type.",
		}, []string{"event_type"}),
		paymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPaymentsRecorded,
			Help: "Vendor payments recorded.",
		}),
		cacheDivergences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCacheDivergences,
			Help: "Cached voucher fields found to disagree with the event fold.",
		}, []string{"field"}),
		unattributed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricUnattributed,
			Help: "Events or payments that could not be attributed to vendor work.",
		}, []string{"kind"}),
		senderHeuristic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricSenderHeuristic,
			Help: "Receives stored without a sender, by resolution rule.",
		}, []string{"rule"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricHTTPRequests,
			Help: "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricHTTPDurationSecond,
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.vouchersCreated,
		m.eventsAppended,
		m.paymentsRecorded,
		m.cacheDivergences,
		m.unattributed,
		m.senderHeuristic,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) VoucherCreated() { m.vouchersCreated.Inc() }

func (m *Metrics) EventAppended(t voucher.EventType) {
	m.eventsAppended.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) PaymentRecorded() { m.paymentsRecorded.Inc() }

func (m *Metrics) CacheDivergence(field string) {
	m.cacheDivergences.WithLabelValues(field).Inc()
}

func (m *Metrics) Unattributed(kind payment.UnattributedKind) {
	m.unattributed.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SenderHeuristic(rule voucher.SenderRule) {
	m.senderHeuristic.WithLabelValues(string(rule)).Inc()
}
