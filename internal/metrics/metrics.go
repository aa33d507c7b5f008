package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kglow"

// Metrics holds the service collectors
// Nil *Metrics is valid and records nothing
type Metrics struct {
	QuotesCalculated    *prometheus.CounterVec
	LedgerEntries       *prometheus.CounterVec
	InsufficientBalance prometheus.Counter
	RechargeAttempts    *prometheus.CounterVec
	RateLookups         *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New creates collectors and registers them in reg
// Panics if a collector is registered already, as prometheus.MustRegister does
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuotesCalculated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_calculated_total",
			Help:      "Number of calculated quotes.",
		}, []string{"method", "certification"}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Number of ledger entries written.",
		}, []string{"kind"}),
		InsufficientBalance: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_insufficient_balance_total",
			Help:      "Number of debits rejected for insufficient balance.",
		}),
		RechargeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recharge_attempts_total",
			Help:      "Number of top-up and auto-recharge attempts by outcome.",
		}, []string{"kind", "status"}),
		RateLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_rate_lookups_total",
			Help:      "Exchange rate lookups by where the rate came from.",
		}, []string{"source"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of handled HTTP requests.",
		}, []string{"method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		m.QuotesCalculated,
		m.LedgerEntries,
		m.InsufficientBalance,
		m.RechargeAttempts,
		m.RateLookups,
		m.HTTPRequests,
		m.HTTPDuration,
	)

	return m
}

func (m *Metrics) QuoteCalculated(method string, certification string) {
	if m == nil {
		return
	}
	m.QuotesCalculated.WithLabelValues(method, certification).Inc()
}

func (m *Metrics) LedgerEntry(kind string) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(kind).Inc()
}

func (m *Metrics) BalanceInsufficient() {
	if m == nil {
		return
	}
	m.InsufficientBalance.Inc()
}

// status is one of completed, failed, skipped
func (m *Metrics) RechargeAttempt(kind string, status string) {
	if m == nil {
		return
	}
	m.RechargeAttempts.WithLabelValues(kind, status).Inc()
}

// source is one of cache, remote, fallback, unavailable
func (m *Metrics) RateLookup(source string) {
	if m == nil {
		return
	}
	m.RateLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) HTTPRequest(method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(took.Seconds())
}
