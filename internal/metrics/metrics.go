package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	LedgerAppends      *prometheus.CounterVec
	LedgerReplays      prometheus.Counter
	WalletDeltas       *prometheus.CounterVec
	InvariantViolation *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	AuditEvents        *prometheus.CounterVec
	ChainVerifyFailure *prometheus.CounterVec
	ArchivedRows       *prometheus.CounterVec
	ReconRuns          *prometheus.CounterVec
	ReconFindings      *prometheus.CounterVec
	ReconDuration      prometheus.Histogram
	PayoutCalls        *prometheus.CounterVec

	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LedgerAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_entries_appended_total",
				Help: "Ledger entries inserted.",
			},
			[]string{"type"},
		),
		LedgerReplays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_idempotent_replays_total",
				Help: "Append calls answered with an existing entry.",
			},
		),
		WalletDeltas: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_deltas_total",
				Help: "Wallet deltas by event type and outcome.",
			},
			[]string{"event_type", "outcome"},
		),
		InvariantViolation: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_invariant_violations_total",
				Help: "Rejected wallet deltas by invariant code.",
			},
			[]string{"code"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_state_transitions_total",
				Help: "Order state transitions by type and outcome.",
			},
			[]string{"type", "to", "outcome"},
		),
		AuditEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_events_written_total",
				Help: "Audit events appended by status.",
			},
			[]string{"status"},
		),
		ChainVerifyFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_chain_verification_failures_total",
				Help: "Audit chain verification problems by kind.",
			},
			[]string{"kind"},
		),
		ArchivedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_archive_rows_total",
				Help: "Audit rows archived, purged and restored.",
			},
			[]string{"op"},
		),
		ReconRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_runs_total",
				Help: "Reconciliation runs by final status.",
			},
			[]string{"provider", "status"},
		),
		ReconFindings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconciliation_findings_total",
				Help: "New reconciliation findings by type and severity.",
			},
			[]string{"finding_type", "severity"},
		),
		ReconDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconciliation_run_duration_seconds",
				Help:    "Reconciliation run duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
		),
		PayoutCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payout_gateway_calls_total",
				Help: "Payout gateway calls by outcome.",
			},
			[]string{"outcome"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	registry.MustRegister(
		m.LedgerAppends,
		m.LedgerReplays,
		m.WalletDeltas,
		m.InvariantViolation,
		m.Transitions,
		m.AuditEvents,
		m.ChainVerifyFailure,
		m.ArchivedRows,
		m.ReconRuns,
		m.ReconFindings,
		m.ReconDuration,
		m.PayoutCalls,
		m.RequestCount,
		m.RequestDuration,
	)
	return m
}

// NewUnregistered returns metrics backed by a private registry. Tests and
// tools that do not expose /metrics use it.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
