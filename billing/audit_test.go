package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
)

func TestAudit_CleanLedger(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	mustCustomer(t, e, "A", "20.00")
	mustCustomer(t, e, "B", "0")
	mustFrame(t, e, "30.00", billing.PayerSplit, players("A", "B"), billing.FrameCompletion{})
	_, err := e.ApplyPayment(ctx, "A", money("50.00"), "cash")
	require.NoError(t, err)

	report, err := (&billing.Auditor{Store: mem}).Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Customers)
	assert.Equal(t, 2, report.Charges)
	assert.Equal(t, 1, report.Payments)
}

func TestAudit_FindsOverAllocation(t *testing.T) {
	// GIVEN: A ledger written around the engine with a charge allocated twice
	e, mem := newTestEngine(t)
	ctx := context.Background()
	mustCustomer(t, e, "A", "0")
	c := mustCharge(t, e, "A", "10.00")

	now := time.Now()
	require.NoError(t, mem.AppendPayment(ctx, billing.LedgerPayment{
		ID: "p1", CustomerID: "A", Amount: money("10.00"), Method: "cash", ReceivedAt: now,
	}))
	require.NoError(t, mem.AppendAllocations(ctx, []billing.PaymentAllocation{
		{ID: "x1", PaymentID: "p1", ChargeID: c.ID, AllocatedAmount: money("10.00"), CreatedAt: now},
		{ID: "x2", PaymentID: "p1", ChargeID: c.ID, AllocatedAmount: money("10.00"), CreatedAt: now},
	}))

	// WHEN: Auditing
	report, err := (&billing.Auditor{Store: mem}).Audit(ctx)
	require.NoError(t, err)

	// THEN: Both the charge and the payment are flagged
	codes := map[string]bool{}
	for _, v := range report.Violations {
		codes[v.Code] = true
	}
	assert.False(t, report.OK())
	assert.True(t, codes["over_allocated_charge"])
	assert.True(t, codes["over_allocated_payment"])
}
