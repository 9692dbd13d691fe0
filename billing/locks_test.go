package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/table-ledger/billing"
)

func TestCustomerLocks_Timeout(t *testing.T) {
	locks := billing.NewCustomerLocks(20 * time.Millisecond)
	ctx := context.Background()

	release, err := locks.Acquire(ctx, "A")
	require.NoError(t, err)

	_, err = locks.Acquire(ctx, "A")
	var lt *billing.LockTimeoutError
	require.ErrorAs(t, err, &lt)
	assert.Equal(t, billing.CustomerID("A"), lt.CustomerID)

	// other customers are unaffected
	other, err := locks.Acquire(ctx, "B")
	require.NoError(t, err)
	other()

	release()
	release() // second call is a no-op

	again, err := locks.Acquire(ctx, "A")
	require.NoError(t, err)
	again()
}

func TestCustomerLocks_ContextCancel(t *testing.T) {
	locks := billing.NewCustomerLocks(0)
	release, err := locks.Acquire(context.Background(), "A")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locks.Acquire(ctx, "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCustomerLocks_FailedAcquireReleasesPartialSet(t *testing.T) {
	locks := billing.NewCustomerLocks(20 * time.Millisecond)
	ctx := context.Background()

	holdB, err := locks.Acquire(ctx, "B")
	require.NoError(t, err)

	// A is taken first (sorted), then B times out: A must be given back
	_, err = locks.Acquire(ctx, "B", "A")
	require.Error(t, err)
	holdB()

	a, err := locks.Acquire(ctx, "A")
	require.NoError(t, err)
	a()
}

func TestCustomerLocks_OverlappingSetsDoNotDeadlock(t *testing.T) {
	locks := billing.NewCustomerLocks(2 * time.Second)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		ids := []billing.CustomerID{"A", "B", "C"}
		if i%2 == 0 {
			ids = []billing.CustomerID{"C", "B", "A"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locks.Acquire(ctx, ids...)
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	wg.Wait()
}
