package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/billing/store"
)

func newTestMemory(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	require.NoError(t, m.CreateCustomer(context.Background(), billing.Customer{
		ID: "A", Name: "Ana", InitialCredit: billing.MustMoney("10.00"),
	}))
	return m
}

func TestMemory_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that writes a payment then fails
	m := newTestMemory(t)
	ctx := context.Background()

	err := m.WithTx(ctx, func(s billing.Store) error {
		require.NoError(t, s.AppendPayment(ctx, billing.LedgerPayment{
			ID: "p1", CustomerID: "A", Amount: billing.MustMoney("5.00"), ReceivedAt: time.Now(),
		}))
		return errors.New("boom")
	})
	require.Error(t, err)

	// THEN: Nothing was kept, and the id is free again
	payments, err := m.PaymentsByCustomer(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, payments)

	require.NoError(t, m.AppendPayment(ctx, billing.LedgerPayment{
		ID: "p1", CustomerID: "A", Amount: billing.MustMoney("5.00"), ReceivedAt: time.Now(),
	}))
}

func TestMemory_ChargesAreFIFOWithSeq(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.AppendCharges(ctx, []billing.LedgerCharge{
		{ID: "late", CustomerID: "A", Amount: billing.MustMoney("1.00"), CreatedAt: at.Add(time.Hour)},
		{ID: "z", CustomerID: "A", Amount: billing.MustMoney("1.00"), CreatedAt: at},
		{ID: "y", CustomerID: "A", Amount: billing.MustMoney("1.00"), CreatedAt: at},
	}))

	cs, err := m.ChargesByCustomer(ctx, "A")
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, billing.ChargeID("z"), cs[0].ID, "same timestamp keeps insertion order")
	assert.Equal(t, billing.ChargeID("y"), cs[1].ID)
	assert.Equal(t, billing.ChargeID("late"), cs[2].ID)
	assert.Less(t, cs[0].Seq, cs[1].Seq)
}

func TestMemory_RejectsDuplicatesAndUnknownCustomers(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	err := m.CreateCustomer(ctx, billing.Customer{ID: "A", Name: "again"})
	assert.ErrorIs(t, err, billing.ErrDuplicateCustomer)

	err = m.AppendCharges(ctx, []billing.LedgerCharge{{ID: "c", CustomerID: "ghost", Amount: billing.MustMoney("1.00")}})
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)

	_, err = m.GetFrame(ctx, "nope")
	assert.ErrorIs(t, err, billing.ErrFrameNotFound)
}

func TestMemory_FrameBilledOnce(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.CreateFrame(ctx, billing.Frame{
		ID: "f", SessionID: "s", PayerMode: billing.PayerLoser, PayStatus: billing.StatusUnpaid,
		Participants: []billing.FrameParticipant{{CustomerID: "A"}},
	}))

	f, err := m.GetFrame(ctx, "f")
	require.NoError(t, err)
	ended := time.Now()
	f.EndedAt = &ended
	f.TotalAmount = billing.MustMoney("9.00")
	require.NoError(t, m.SaveFrameBilling(ctx, *f))

	err = m.SaveFrameBilling(ctx, *f)
	assert.ErrorIs(t, err, billing.ErrFrameAlreadyBilled)

	got, err := m.GetFrame(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "9.00", got.TotalAmount.String())
	assert.Len(t, got.Participants, 1)
}

func TestMemory_Reset(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, m.Reset(ctx))

	customers, err := m.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, customers)
}
