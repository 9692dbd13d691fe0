package billing_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
	"github.com/warp/table-ledger/billing/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// newTestEngine returns an engine over a fresh memory store with a clock
// that ticks one second per call and sequential IDs.
func newTestEngine(t *testing.T) (*billing.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	e := billing.NewEngine(mem)

	var mu sync.Mutex
	now := time.Date(2025, time.March, 1, 18, 0, 0, 0, time.UTC)
	e.Clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	var n atomic.Int64
	e.NewID = func() string { return fmt.Sprintf("%04d", n.Add(1)) }
	return e, mem
}

func money(s string) billing.Money { return billing.MustMoney(s) }

func mustCustomer(t *testing.T, e *billing.Engine, id billing.CustomerID, credit string) {
	t.Helper()
	_, err := e.CreateCustomer(context.Background(), billing.NewCustomer{
		ID: id, Name: string(id), InitialCredit: money(credit),
	})
	require.NoError(t, err)
}

func mustCharge(t *testing.T, e *billing.Engine, id billing.CustomerID, amount string) billing.LedgerCharge {
	t.Helper()
	c, err := e.AddManualCharge(context.Background(), id, money(amount), "")
	require.NoError(t, err)
	return *c
}

// mustFrame starts and completes a frame, returning its billing.
func mustFrame(t *testing.T, e *billing.Engine, base string, mode billing.PayerMode, ps []billing.FrameParticipant, done billing.FrameCompletion) *billing.FrameBilling {
	t.Helper()
	ctx := context.Background()
	f, err := e.StartFrame(ctx, billing.FrameStart{
		SessionID:    "s-1",
		TableName:    "Table 1",
		BaseRate:     money(base),
		PayerMode:    mode,
		Participants: ps,
	})
	require.NoError(t, err)

	done.FrameID = f.ID
	out, err := e.CompleteFrame(ctx, done)
	require.NoError(t, err)
	return out
}

func balanceOf(t *testing.T, e *billing.Engine, id billing.CustomerID) billing.Balance {
	t.Helper()
	b, err := e.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}
