/*
calculator.go - Frame total

  total = baseRate + overtimeAmount + lumpSumFine - discount

Overtime pricing itself (per-minute vs lump sum) is a rate card concern
(see package rates); the calculator receives the finished overtimeAmount.

A discount larger than everything else is an input mistake but not fatal:
the total clamps to zero and the result carries a DiscountClamp warning the
caller must surface.
*/
package billing

import "fmt"

// FrameCharges are the raw money inputs of a completed frame.
type FrameCharges struct {
	BaseRate       Money
	OvertimeAmount Money
	LumpSumFine    Money
	Discount       Money
}

// FrameTotal is the calculator result.
type FrameTotal struct {
	Total Money

	// Clamp is set when the discount exceeded the chargeable amount.
	Clamp *DiscountClamp
}

// DiscountClamp describes a discount that was cut down to the chargeable amount.
type DiscountClamp struct {
	Chargeable Money
	Discount   Money
}

func (w *DiscountClamp) String() string {
	return fmt.Sprintf("discount %s exceeds chargeable amount %s; total clamped to 0.00", w.Discount, w.Chargeable)
}

// ComputeTotal prices a frame. Pure function.
func ComputeTotal(in FrameCharges) (FrameTotal, error) {
	fields := []struct {
		name string
		v    Money
	}{
		{"base_rate", in.BaseRate},
		{"overtime_amount", in.OvertimeAmount},
		{"lump_sum_fine", in.LumpSumFine},
		{"discount", in.Discount},
	}
	for _, f := range fields {
		if err := f.v.check(f.name); err != nil {
			return FrameTotal{}, err
		}
		if f.v.IsNegative() {
			return FrameTotal{}, &InvalidAmountError{Field: f.name, Value: f.v.String(), Reason: "must not be negative"}
		}
	}

	chargeable, err := Sum(in.BaseRate, in.OvertimeAmount, in.LumpSumFine)
	if err != nil {
		return FrameTotal{}, err
	}
	if in.Discount.GreaterThan(chargeable) {
		return FrameTotal{
			Total: Zero,
			Clamp: &DiscountClamp{Chargeable: chargeable, Discount: in.Discount},
		}, nil
	}

	total, err := chargeable.Sub(in.Discount)
	if err != nil {
		return FrameTotal{}, err
	}
	return FrameTotal{Total: total}, nil
}
