package service

// FeeCalculator returns the charge added on top of a subtotal, in the same
// minor units.
type FeeCalculator interface {
	Additional(subtotalCents int64) int64
}

// BasisPointFees adds a platform fee and a tax, each a basis-point share of
// the subtotal rounded half up.
type BasisPointFees struct {
	PlatformBps int
	TaxBps      int
}

func (f BasisPointFees) Additional(subtotalCents int64) int64 {
	if subtotalCents <= 0 {
		return 0
	}
	return bps(subtotalCents, f.PlatformBps) + bps(subtotalCents, f.TaxBps)
}

func bps(amount int64, points int) int64 {
	if points <= 0 {
		return 0
	}
	return (amount*int64(points) + 5000) / 10000
}
