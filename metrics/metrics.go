// Package metrics exposes billing engine activity as Prometheus metrics.
//
// Observer implements billing.Observer; wire it into the engine and mount
// promhttp.Handler() on /metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/table-ledger/billing"
)

const namespace = "table_ledger"

var (
	PaymentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "applied_total",
		Help:      "Payments recorded, by method.",
	}, []string{"method"})

	PaymentAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "amount_total",
		Help:      "Sum of payment amounts, split into allocated to charges and toward initial credit.",
	}, []string{"target"})

	AllocationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "allocations_total",
		Help:      "Payment allocation rows written.",
	})

	ChargesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "charges",
		Name:      "created_total",
		Help:      "Charges created, by payer mode (MANUAL for manual charges).",
	}, []string{"mode"})

	FramesBilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "billed_total",
		Help:      "Frames completed and billed, by payer mode and whether the discount was clamped.",
	}, []string{"mode", "clamped"})

	FrameStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "status_transitions_total",
		Help:      "Frame PayStatus transitions.",
	}, []string{"from", "to"})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "locks",
		Name:      "wait_seconds",
		Help:      "Time spent waiting for customer ledger locks.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "locks",
		Name:      "timeouts_total",
		Help:      "Ledger lock acquisitions that timed out.",
	})

	AuditRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "runs_total",
		Help:      "Ledger audit runs, by result (ok, violations, error).",
	}, []string{"result"})

	AuditViolations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "violations",
		Help:      "Violations found by the most recent ledger audit.",
	})
)

// Observer records engine events.
type Observer struct{}

var _ billing.Observer = Observer{}

func NewObserver() Observer { return Observer{} }

func (Observer) PaymentApplied(method string, amount, allocated billing.Money, allocations int) {
	PaymentsApplied.WithLabelValues(method).Inc()
	AllocationsCreated.Add(float64(allocations))

	toCharges := allocated.Value.InexactFloat64()
	PaymentAmount.WithLabelValues("charges").Add(toCharges)
	PaymentAmount.WithLabelValues("credit").Add(amount.Value.InexactFloat64() - toCharges)
}

func (Observer) ChargesCreated(mode billing.PayerMode, charges int) {
	ChargesCreated.WithLabelValues(string(mode)).Add(float64(charges))
}

func (Observer) FrameBilled(mode billing.PayerMode, clamped bool) {
	label := "false"
	if clamped {
		label = "true"
	}
	FramesBilled.WithLabelValues(string(mode), label).Inc()
}

func (Observer) FrameStatusChanged(from, to billing.PayStatus) {
	FrameStatusTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (Observer) LockWaited(wait time.Duration, err error) {
	LockWait.Observe(wait.Seconds())
	if errors.Is(err, billing.ErrConcurrency) {
		LockTimeouts.Inc()
	}
}

// AuditFinished records the outcome of one audit pass.
func AuditFinished(report *billing.AuditReport, err error) {
	switch {
	case err != nil:
		AuditRuns.WithLabelValues("error").Inc()
	case report.OK():
		AuditRuns.WithLabelValues("ok").Inc()
		AuditViolations.Set(0)
	default:
		AuditRuns.WithLabelValues("violations").Inc()
		AuditViolations.Set(float64(len(report.Violations)))
	}
}
