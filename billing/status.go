package billing

// AllocatedByCharge sums allocations per charge.
func AllocatedByCharge(allocs []PaymentAllocation) (map[ChargeID]Money, error) {
	out := make(map[ChargeID]Money, len(allocs))
	for _, a := range allocs {
		sum, err := out[a.ChargeID].Add(a.AllocatedAmount)
		if err != nil {
			return nil, err
		}
		out[a.ChargeID] = sum
	}
	return out, nil
}

// ChargeStatus is the pay view of a single charge.
func ChargeStatus(amount, allocated Money) PayStatus {
	switch {
	case allocated.GreaterOrEqual(amount):
		return StatusPaid
	case allocated.IsZero():
		return StatusUnpaid
	default:
		return StatusPartial
	}
}

// DeriveFrameStatus computes a frame's PayStatus from its charges:
// PAID when every charge is covered, UNPAID when nothing at all has been
// allocated, PARTIAL otherwise. A frame without charges is UNPAID.
func DeriveFrameStatus(charges []LedgerCharge, allocated map[ChargeID]Money) PayStatus {
	if len(charges) == 0 {
		return StatusUnpaid
	}

	allPaid := true
	anyAllocated := false
	for _, c := range charges {
		got := allocated[c.ID]
		if got.IsPositive() {
			anyAllocated = true
		}
		if got.LessThan(c.Amount) {
			allPaid = false
		}
	}

	switch {
	case allPaid:
		return StatusPaid
	case !anyAllocated:
		return StatusUnpaid
	default:
		return StatusPartial
	}
}

// advanceStatus never lets a status move backwards. Allocations are
// append-only, so a regression means the ledger was read inconsistently.
func advanceStatus(current, derived PayStatus) (PayStatus, bool) {
	if derived.rank() < current.rank() {
		return current, false
	}
	return derived, true
}
