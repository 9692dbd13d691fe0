package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
)

func TestReconcile_Formula(t *testing.T) {
	tests := []struct {
		name      string
		credit    string
		charges   []string
		payments  []string
		balance   string
		remaining string
		unpaid    string
	}{
		{"fresh customer", "0.00", nil, nil, "0.00", "0.00", "0.00"},
		{"credit only", "75.00", nil, nil, "75.00", "75.00", "0.00"},
		{"unpaid charges", "0.00", []string{"20.00", "5.50"}, nil, "25.50", "0.00", "25.50"},
		{"partial payment", "0.00", []string{"20.00", "5.50"}, []string{"22.00"}, "3.50", "0.00", "3.50"},
		{"payment beyond credit", "10.00", []string{"5.00"}, []string{"40.00"}, "0.00", "0.00", "0.00"},
		{"credit and charges", "100.00", []string{"60.00", "40.00"}, []string{"150.00"}, "50.00", "50.00", "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			ctx := context.Background()
			mustCustomer(t, e, "A", tt.credit)
			for _, c := range tt.charges {
				mustCharge(t, e, "A", c)
			}
			for _, p := range tt.payments {
				_, err := e.ApplyPayment(ctx, "A", money(p), "cash")
				require.NoError(t, err)
			}

			bal := balanceOf(t, e, "A")
			assert.Equal(t, tt.balance, bal.Balance.String())
			assert.Equal(t, tt.remaining, bal.RemainingCredit.String())
			assert.Equal(t, tt.unpaid, bal.UnpaidCharges.String())
			assert.Equal(t, tt.credit, bal.InitialCredit.String())
		})
	}
}

func TestGetBalance_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	mustCustomer(t, e, "A", "100.00")
	mustCharge(t, e, "A", "60.00")
	mustCharge(t, e, "A", "40.00")
	_, err := e.ApplyPayment(context.Background(), "A", money("150.00"), "cash")
	require.NoError(t, err)

	first := balanceOf(t, e, "A")
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, balanceOf(t, e, "A"))
	}
}

func TestGetBalance_UnknownCustomer(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.GetBalance(context.Background(), "ghost")
	assert.True(t, billing.IsNotFound(err))
}

func TestReconcile_Pure(t *testing.T) {
	l := &billing.CustomerLedger{
		Customer: billing.Customer{ID: "A", InitialCredit: money("30.00")},
		Charges: []billing.LedgerCharge{
			{ID: "c1", CustomerID: "A", Amount: money("12.00")},
		},
		Payments: []billing.LedgerPayment{
			{ID: "p1", CustomerID: "A", Amount: money("20.00")},
		},
		Allocations: []billing.PaymentAllocation{
			{ID: "a1", PaymentID: "p1", ChargeID: "c1", AllocatedAmount: money("12.00")},
		},
	}
	bal, err := billing.Reconcile(l)
	require.NoError(t, err)

	assert.Equal(t, "8.00", bal.PaidTowardCredit.String())
	assert.Equal(t, "22.00", bal.RemainingCredit.String())
	assert.Equal(t, "22.00", bal.Balance.String())
}

func TestStatement(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustCustomer(t, e, "A", "0")
	c1 := mustCharge(t, e, "A", "10.00")
	c2 := mustCharge(t, e, "A", "10.00")
	_, err := e.ApplyPayment(ctx, "A", money("15.00"), "cash")
	require.NoError(t, err)

	st, err := e.Statement(ctx, "A")
	require.NoError(t, err)

	require.Len(t, st.Charges, 2)
	assert.Equal(t, c1.ID, st.Charges[0].Charge.ID)
	assert.Equal(t, billing.StatusPaid, st.Charges[0].Status)
	assert.Equal(t, c2.ID, st.Charges[1].Charge.ID)
	assert.Equal(t, billing.StatusPartial, st.Charges[1].Status)
	assert.Equal(t, "5.00", st.Charges[1].Outstanding.String())
	assert.Len(t, st.Payments, 1)
	assert.Equal(t, "5.00", st.Balance.Balance.String())
}
