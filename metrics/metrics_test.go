package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/metrics"
)

func TestObserver_PaymentApplied(t *testing.T) {
	obs := metrics.NewObserver()
	before := testutil.ToFloat64(metrics.PaymentsApplied.WithLabelValues("voucher"))
	credit := testutil.ToFloat64(metrics.PaymentAmount.WithLabelValues("credit"))

	obs.PaymentApplied("voucher", billing.MustMoney("150.00"), billing.MustMoney("100.00"), 2)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.PaymentsApplied.WithLabelValues("voucher")))
	assert.InDelta(t, credit+50, testutil.ToFloat64(metrics.PaymentAmount.WithLabelValues("credit")), 0.001)
}

func TestObserver_LockTimeoutCounted(t *testing.T) {
	obs := metrics.NewObserver()
	before := testutil.ToFloat64(metrics.LockTimeouts)

	obs.LockWaited(time.Millisecond, nil)
	obs.LockWaited(time.Second, &billing.LockTimeoutError{CustomerID: "A", Waited: time.Second})

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LockTimeouts))
}

func TestAuditFinished(t *testing.T) {
	metrics.AuditFinished(&billing.AuditReport{Violations: []billing.Violation{{Code: "x"}, {Code: "y"}}}, nil)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AuditViolations))

	metrics.AuditFinished(&billing.AuditReport{}, nil)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.AuditViolations))
}
