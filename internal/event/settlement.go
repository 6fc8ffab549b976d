package event

import "github.com/ethereum/go-ethereum/common"

// PayoutClaimed covers both winnings and cancellation refunds.
type PayoutClaimed struct {
	EventID uint64         `json:"event_id"`
	Winner  common.Address `json:"winner"`
	Amount  int64          `json:"amount"`
	Refund  bool           `json:"refund"`
}

func (PayoutClaimed) Kind() Kind { return KindPayoutClaimed }

type PlatformFeeCollected struct {
	EventID     uint64 `json:"event_id"`
	PlatformFee int64  `json:"platform_fee"`
	CreatorFee  int64  `json:"creator_fee"`
}

func (PlatformFeeCollected) Kind() Kind { return KindPlatformFeeCollected }

type PlatformFeeWithdrawn struct {
	Owner  common.Address `json:"owner"`
	Amount int64          `json:"amount"`
}

func (PlatformFeeWithdrawn) Kind() Kind { return KindPlatformFeeWithdrawn }

type CreatorFeeWithdrawn struct {
	Creator common.Address `json:"creator"`
	Amount  int64          `json:"amount"`
}

func (CreatorFeeWithdrawn) Kind() Kind { return KindCreatorFeeWithdrawn }

type UnclaimedWinningsCollected struct {
	EventID uint64         `json:"event_id"`
	Owner   common.Address `json:"owner"`
	Amount  int64          `json:"amount"`
}

func (UnclaimedWinningsCollected) Kind() Kind { return KindUnclaimedWinningsCollected }
