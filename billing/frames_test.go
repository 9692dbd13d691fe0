package billing_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
)

func TestCreateCustomer(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	c, err := e.CreateCustomer(ctx, billing.NewCustomer{Name: "  Ana ", InitialCredit: money("12.00")})
	require.NoError(t, err)
	assert.Equal(t, "Ana", c.Name)
	assert.Contains(t, string(c.ID), "cust-")

	_, err = e.CreateCustomer(ctx, billing.NewCustomer{Name: ""})
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = e.CreateCustomer(ctx, billing.NewCustomer{Name: "Bo", InitialCredit: money("-1.00")})
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)

	_, err = e.CreateCustomer(ctx, billing.NewCustomer{ID: c.ID, Name: "Dup"})
	assert.ErrorIs(t, err, billing.ErrDuplicateCustomer)
}

func TestStartFrame_UnknownParticipant(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.StartFrame(context.Background(), billing.FrameStart{
		SessionID:    "s-1",
		BaseRate:     money("10.00"),
		Participants: players("ghost"),
	})
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
}

func TestCompleteFrame_SplitScenario(t *testing.T) {
	// GIVEN: A SPLIT frame, base 90.00 + overtime 10.01, three players
	// WHEN: Completing it
	// THEN: 33.35 / 33.33 / 33.33, frame UNPAID, all fields written

	e, _ := newTestEngine(t)
	for _, id := range []billing.CustomerID{"A", "B", "C"} {
		mustCustomer(t, e, id, "0")
	}
	fb := mustFrame(t, e, "90.00", billing.PayerSplit, players("A", "B", "C"),
		billing.FrameCompletion{OvertimeMinutes: 4, OvertimeAmount: money("10.01")})

	assert.Equal(t, "100.01", fb.Frame.TotalAmount.String())
	assert.Equal(t, 4, fb.Frame.OvertimeMinutes)
	assert.True(t, fb.Frame.Billed())
	assert.Equal(t, billing.StatusUnpaid, fb.Frame.PayStatus)
	require.Len(t, fb.Charges, 3)
	assert.Equal(t, "33.35", fb.Charges[0].Amount.String())
	assert.Equal(t, "33.33", fb.Charges[1].Amount.String())
	assert.Equal(t, "33.33", fb.Charges[2].Amount.String())

	stored, err := e.Store.ChargesByFrame(context.Background(), fb.Frame.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestCompleteFrame_ZeroTotalIsPaid(t *testing.T) {
	e, _ := newTestEngine(t)
	mustCustomer(t, e, "A", "0")
	mustCustomer(t, e, "B", "0")

	fb := mustFrame(t, e, "20.00", billing.PayerLoser, players("A", "B"),
		billing.FrameCompletion{Discount: money("25.00"), LoserID: cid("B")})

	assert.True(t, fb.Frame.TotalAmount.IsZero())
	require.Len(t, fb.Warnings, 1)
	assert.Equal(t, billing.StatusPaid, fb.Frame.PayStatus)
}

func TestCompleteFrame_OnlyOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustCustomer(t, e, "A", "0")
	fb := mustFrame(t, e, "10.00", billing.PayerWinner, players("A"),
		billing.FrameCompletion{WinnerID: cid("A")})

	_, err := e.CompleteFrame(ctx, billing.FrameCompletion{FrameID: fb.Frame.ID, WinnerID: cid("A")})
	assert.ErrorIs(t, err, billing.ErrFrameAlreadyBilled)

	charges, err := e.Store.ChargesByCustomer(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, charges, 1, "second completion adds nothing")
}

func TestCompleteFrame_ConcurrentCompletionsBillOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustCustomer(t, e, "A", "0")
	mustCustomer(t, e, "B", "0")
	f, err := e.StartFrame(ctx, billing.FrameStart{
		SessionID: "s", BaseRate: money("40.00"), PayerMode: billing.PayerSplit, Participants: players("A", "B"),
	})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.CompleteFrame(ctx, billing.FrameCompletion{FrameID: f.ID}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, billing.ErrFrameAlreadyBilled)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	charges, err := e.Store.ChargesByFrame(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, charges, 2)
}

func TestCompleteFrame_PolicyErrorsWriteNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	for _, id := range []billing.CustomerID{"A", "B", "C"} {
		mustCustomer(t, e, id, "0")
	}
	// three players, nobody flagged: the loser cannot be inferred
	f, err := e.StartFrame(ctx, billing.FrameStart{
		SessionID: "s", BaseRate: money("30.00"), Participants: players("A", "B", "C"),
	})
	require.NoError(t, err)

	_, err = e.CompleteFrame(ctx, billing.FrameCompletion{FrameID: f.ID})
	assert.ErrorIs(t, err, billing.ErrMissingLoser)

	got, err := e.Store.GetFrame(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, got.Billed())

	// a CUSTOM override that does not add up is rejected the same way
	_, err = e.CompleteFrame(ctx, billing.FrameCompletion{
		FrameID:   f.ID,
		PayerMode: billing.PayerCustom,
		Custom:    []billing.ChargeDraft{{CustomerID: "A", Amount: money("29.00")}},
	})
	assert.ErrorIs(t, err, billing.ErrCustomSumMismatch)

	// and then succeeds
	fb, err := e.CompleteFrame(ctx, billing.FrameCompletion{
		FrameID:   f.ID,
		PayerMode: billing.PayerCustom,
		Custom: []billing.ChargeDraft{
			{CustomerID: "A", Amount: money("20.00")},
			{CustomerID: "C", Amount: money("10.00")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, billing.PayerCustom, fb.Frame.PayerMode)
	assert.Len(t, fb.Charges, 2)
}

func TestCompleteFrame_EachAndWinnerInference(t *testing.T) {
	e, _ := newTestEngine(t)
	mustCustomer(t, e, "A", "0")
	mustCustomer(t, e, "B", "0")

	fb := mustFrame(t, e, "15.00", billing.PayerEach,
		[]billing.FrameParticipant{{CustomerID: "A"}, {CustomerID: "B", IsWinner: true}},
		billing.FrameCompletion{})

	require.NotNil(t, fb.Frame.WinnerCustomerID)
	assert.Equal(t, billing.CustomerID("B"), *fb.Frame.WinnerCustomerID)
	require.NotNil(t, fb.Frame.LoserCustomerID)
	assert.Equal(t, billing.CustomerID("A"), *fb.Frame.LoserCustomerID)
	require.Len(t, fb.Charges, 2)
	assert.Equal(t, "15.00", fb.Charges[1].Amount.String())
}

func TestListFramesBySession(t *testing.T) {
	e, _ := newTestEngine(t)
	mustCustomer(t, e, "A", "0")
	mustFrame(t, e, "10.00", billing.PayerWinner, players("A"), billing.FrameCompletion{WinnerID: cid("A")})
	mustFrame(t, e, "12.00", billing.PayerWinner, players("A"), billing.FrameCompletion{WinnerID: cid("A")})

	frames, err := e.Store.ListFramesBySession(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "10.00", frames[0].TotalAmount.String())
}

func TestAddManualCharge(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	mustCustomer(t, e, "A", "0")

	c, err := e.AddManualCharge(ctx, "A", money("4.50"), "  drinks ")
	require.NoError(t, err)
	assert.Equal(t, "drinks", c.Description)
	assert.Nil(t, c.FrameID)

	_, err = e.AddManualCharge(ctx, "A", money("0.00"), "")
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)

	_, err = e.AddManualCharge(ctx, "ghost", money("1.00"), "")
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)
}
