package core

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentKind labels why funds leave the ledger.
type PaymentKind string

const (
	PaymentPayout      PaymentKind = "payout"
	PaymentRefund      PaymentKind = "refund"
	PaymentSweep       PaymentKind = "sweep"
	PaymentPlatformFee PaymentKind = "platform_fee"
	PaymentCreatorFee  PaymentKind = "creator_fee"
)

// Payment is one outbound transfer.
type Payment struct {
	To        common.Address
	Amount    int64
	Kind      PaymentKind
	EventID   *uint64
	Reference string // idempotency key of the command that caused it
}

// Payer moves funds out of the ledger. It runs as the last step of a
// mutation while the engine holds its write lock, so it must not call back
// into the Engine. A returned error rolls the whole mutation back.
type Payer interface {
	Pay(ctx context.Context, p Payment) error
}

// PayerFunc adapts a function to Payer.
type PayerFunc func(ctx context.Context, p Payment) error

func (f PayerFunc) Pay(ctx context.Context, p Payment) error {
	return f(ctx, p)
}

// NopPayer accepts every payment; the ledger's journals are the only record.
type NopPayer struct{}

func (NopPayer) Pay(context.Context, Payment) error { return nil }
