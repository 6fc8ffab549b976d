package math

// FeeDivisor sets the total fee at 0.1% of winnings.
const FeeDivisor = 1000

// FeeBreakdown is the fee taken from an event's pool at resolution.
type FeeBreakdown struct {
	Winnings     int64 // total pool minus the winning outcome's pool
	TotalFee     int64
	PlatformFee  int64
	CreatorFee   int64
	PoolAfterFee int64
}

// ComputeFees splits the resolution fee for a pool. Nothing is charged when
// nobody backed the winner or when nobody backed anything else.
//
//	totalFee    = floor(winnings / 1000)
//	platformFee = floor(totalFee / 2)
//	creatorFee  = totalFee - platformFee
func ComputeFees(totalPool, winningPool int64) FeeBreakdown {
	fb := FeeBreakdown{PoolAfterFee: totalPool}
	if winningPool == 0 {
		return fb
	}

	fb.Winnings = totalPool - winningPool
	if fb.Winnings <= 0 {
		fb.Winnings = 0
		return fb
	}

	fb.TotalFee = fb.Winnings / FeeDivisor
	fb.PlatformFee = fb.TotalFee / 2
	fb.CreatorFee = fb.TotalFee - fb.PlatformFee
	fb.PoolAfterFee = totalPool - fb.TotalFee
	return fb
}

// ProportionalPayout returns floor(stake * poolAfterFee / winningPool).
func ProportionalPayout(stake, poolAfterFee, winningPool int64) int64 {
	if stake <= 0 || winningPool <= 0 {
		return 0
	}
	return MulDivFloor(stake, poolAfterFee, winningPool)
}
