package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*billing.Engine, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	return billing.NewEngine(store), store
}

func customer(t *testing.T, e *billing.Engine, id billing.CustomerID, credit string) {
	t.Helper()
	_, err := e.CreateCustomer(context.Background(), billing.NewCustomer{
		ID: id, Name: string(id), Contact: "555-0100", InitialCredit: billing.MustMoney(credit),
	})
	require.NoError(t, err)
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestSQLite_CustomerRoundTrip(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	customer(t, e, "A", "100.00")

	c, err := store.GetCustomer(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "100.00", c.InitialCredit.String())
	assert.Equal(t, "555-0100", c.Contact)

	_, err = store.GetCustomer(ctx, "ghost")
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)

	err = store.CreateCustomer(ctx, billing.Customer{ID: "A", Name: "dup", InitialCredit: billing.Zero, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, billing.ErrDuplicateCustomer)
}

func TestSQLite_FrameLifecycle(t *testing.T) {
	// GIVEN: A LOSER frame between A and B, A flagged winner
	e, store := newTestEngine(t)
	ctx := context.Background()
	customer(t, e, "A", "0")
	customer(t, e, "B", "0")

	f, err := e.StartFrame(ctx, billing.FrameStart{
		SessionID: "s-1",
		TableName: "Table 7",
		BaseRate:  billing.MustMoney("100.00"),
		Participants: []billing.FrameParticipant{
			{CustomerID: "A", Team: "red", IsWinner: true},
			{CustomerID: "B", Team: "blue"},
		},
	})
	require.NoError(t, err)

	// WHEN: Completing with overtime and a fine
	fb, err := e.CompleteFrame(ctx, billing.FrameCompletion{
		FrameID:         f.ID,
		OvertimeMinutes: 10,
		OvertimeAmount:  billing.MustMoney("25.00"),
		LumpSumFine:     billing.MustMoney("5.00"),
		Discount:        billing.MustMoney("0.50"),
	})
	require.NoError(t, err)

	// THEN: Everything reads back from SQLite
	got, err := store.GetFrame(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "129.50", got.TotalAmount.String())
	assert.Equal(t, 10, got.OvertimeMinutes)
	assert.Equal(t, billing.StatusUnpaid, got.PayStatus)
	require.NotNil(t, got.LoserCustomerID)
	assert.Equal(t, billing.CustomerID("B"), *got.LoserCustomerID)
	require.NotNil(t, got.EndedAt)
	require.Len(t, got.Participants, 2)
	assert.Equal(t, "red", got.Participants[0].Team)
	assert.True(t, got.Participants[0].IsWinner)

	charges, err := store.ChargesByFrame(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, fb.Charges[0].ID, charges[0].ID)
	assert.Equal(t, "129.50", charges[0].Amount.String())
	assert.NotZero(t, charges[0].Seq)

	_, err = e.CompleteFrame(ctx, billing.FrameCompletion{FrameID: f.ID})
	assert.ErrorIs(t, err, billing.ErrFrameAlreadyBilled)

	frames, err := store.ListFramesBySession(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestSQLite_PaymentScenario(t *testing.T) {
	// GIVEN: InitialCredit 100.00 and charges 60.00, 40.00
	// WHEN: Paying 150.00
	// THEN: Balance 50.00, identical to the in-memory engine
	e, _ := newTestEngine(t)
	ctx := context.Background()
	customer(t, e, "A", "100.00")
	_, err := e.AddManualCharge(ctx, "A", billing.MustMoney("60.00"), "frame 1")
	require.NoError(t, err)
	_, err = e.AddManualCharge(ctx, "A", billing.MustMoney("40.00"), "frame 2")
	require.NoError(t, err)

	res, err := e.ApplyPayment(ctx, "A", billing.MustMoney("150.00"), "cash")
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	assert.Equal(t, "60.00", res.Allocations[0].AllocatedAmount.String())

	bal, err := e.GetBalance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.Balance.String())
	assert.Equal(t, "150.00", bal.TotalPayments.String())
}

func TestSQLite_TxRollback(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	customer(t, e, "A", "0")

	err := store.WithTx(ctx, func(s billing.Store) error {
		if err := s.AppendPayment(ctx, billing.LedgerPayment{
			ID: "p1", CustomerID: "A", Amount: billing.MustMoney("5.00"), Method: "cash", ReceivedAt: time.Now(),
		}); err != nil {
			return err
		}
		// reads inside the transaction see the write
		ps, err := s.PaymentsByCustomer(ctx, "A")
		if err != nil {
			return err
		}
		require.Len(t, ps, 1)
		return errors.New("abort")
	})
	require.Error(t, err)

	ps, err := store.PaymentsByCustomer(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestSQLite_ConcurrentPayments(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	customer(t, e, "A", "0")
	_, err := e.AddManualCharge(ctx, "A", billing.MustMoney("100.00"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ApplyPayment(ctx, "A", billing.MustMoney("10.00"), "cash")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	allocs, err := store.AllocationsByCustomer(ctx, "A")
	require.NoError(t, err)
	total := billing.Zero
	for _, a := range allocs {
		total, err = total.Add(a.AllocatedAmount)
		require.NoError(t, err)
	}
	assert.Equal(t, "100.00", total.String())

	report, err := (&billing.Auditor{Store: store}).Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestSQLite_AllocationsByCharges(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	customer(t, e, "A", "0")
	c1, err := e.AddManualCharge(ctx, "A", billing.MustMoney("3.00"), "")
	require.NoError(t, err)
	c2, err := e.AddManualCharge(ctx, "A", billing.MustMoney("3.00"), "")
	require.NoError(t, err)
	_, err = e.ApplyPayment(ctx, "A", billing.MustMoney("4.00"), "cash")
	require.NoError(t, err)

	allocs, err := store.AllocationsByCharges(ctx, []billing.ChargeID{c1.ID, c2.ID})
	require.NoError(t, err)
	assert.Len(t, allocs, 2)

	none, err := store.AllocationsByCharges(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// =============================================================================
// RATE CARDS & RESET
// =============================================================================

func TestSQLite_RateCards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRateCard(ctx, sqlite.RateCardRecord{ID: "snooker", Name: "Snooker", ConfigJSON: `{"id":"snooker"}`}))
	require.NoError(t, store.SaveRateCard(ctx, sqlite.RateCardRecord{ID: "snooker", Name: "Snooker v2", ConfigJSON: `{"id":"snooker"}`}))

	rc, err := store.GetRateCard(ctx, "snooker")
	require.NoError(t, err)
	assert.Equal(t, 2, rc.Version)
	assert.Equal(t, "Snooker v2", rc.Name)

	_, err = store.GetRateCard(ctx, "pool")
	assert.ErrorIs(t, err, billing.ErrRateCardNotFound)

	cards, err := store.ListRateCards(ctx)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}

func TestSQLite_Reset(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	customer(t, e, "A", "1.00")

	require.NoError(t, store.Reset(ctx))

	cs, err := store.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Empty(t, cs)
}
