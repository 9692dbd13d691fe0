package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CustomerLocks serializes ledger writes per customer. Writes for different
// customers run in parallel; two payments for the same customer never
// allocate against the same remaining amount.
//
// Each customer gets a one-slot channel. Holding the slot is holding the lock,
// which lets Acquire honour a timeout and context cancellation.
type CustomerLocks struct {
	Timeout time.Duration // <= 0 waits until ctx is done

	mu    sync.Mutex
	slots map[CustomerID]chan struct{}
}

func NewCustomerLocks(timeout time.Duration) *CustomerLocks {
	return &CustomerLocks{
		Timeout: timeout,
		slots:   make(map[CustomerID]chan struct{}),
	}
}

func (l *CustomerLocks) slot(id CustomerID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slots == nil {
		l.slots = make(map[CustomerID]chan struct{})
	}
	ch, ok := l.slots[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[id] = ch
	}
	return ch
}

// Acquire locks every given customer, in sorted order so that two callers
// locking overlapping sets cannot deadlock. The returned release func
// unlocks all of them and is safe to call once.
func (l *CustomerLocks) Acquire(ctx context.Context, ids ...CustomerID) (release func(), err error) {
	ordered := uniqueSorted(ids)

	var deadline <-chan time.Time
	start := time.Now()
	if l.Timeout > 0 {
		timer := time.NewTimer(l.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	held := make([]chan struct{}, 0, len(ordered))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ordered {
		ch := l.slot(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-deadline:
			unlock()
			return nil, &LockTimeoutError{CustomerID: id, Waited: time.Since(start)}
		case <-ctx.Done():
			unlock()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

func uniqueSorted(ids []CustomerID) []CustomerID {
	seen := make(map[CustomerID]bool, len(ids))
	out := make([]CustomerID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
