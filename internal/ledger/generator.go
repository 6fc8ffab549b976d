package ledger

import "github.com/ethereum/go-ethereum/common"

// JournalGenerator appends the fund movements of each settlement step to a batch.
// Amounts that are zero produce no journal.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// GenerateStake moves attached value into the event escrow.
// external:wallets -> event:<id>:escrow
func (jg *JournalGenerator) GenerateStake(b *Batch, marketID uint64, amount int64) {
	b.Add(JournalTypeStake,
		NewEscrowAccount(marketID),
		NewExternalAccountKey(SubTypeExternalWallets),
		amount)
}

// GenerateResolutionFees carves the fee out of the escrow at resolution.
// event:<id>:escrow -> system:platform_fees, user:<creator>:creator_fees
func (jg *JournalGenerator) GenerateResolutionFees(b *Batch, marketID uint64, creator common.Address, platformFee, creatorFee int64) {
	escrow := NewEscrowAccount(marketID)
	b.Add(JournalTypePlatformFee, NewPlatformFeeAccount(), escrow, platformFee)
	b.Add(JournalTypeCreatorFee, NewCreatorFeeAccount(creator), escrow, creatorFee)
}

// GeneratePayout releases winnings or a refund from escrow.
// event:<id>:escrow -> external:payouts
func (jg *JournalGenerator) GeneratePayout(b *Batch, marketID uint64, amount int64, refund bool) {
	jt := JournalTypePayout
	if refund {
		jt = JournalTypeRefund
	}
	b.Add(jt, NewExternalAccountKey(SubTypeExternalPayouts), NewEscrowAccount(marketID), amount)
}

// GenerateSweep releases the unclaimed remainder of an escrow to the owner.
func (jg *JournalGenerator) GenerateSweep(b *Batch, marketID uint64, amount int64) {
	b.Add(JournalTypeSweep, NewExternalAccountKey(SubTypeExternalPayouts), NewEscrowAccount(marketID), amount)
}

// GeneratePlatformWithdrawal empties the platform fee account.
func (jg *JournalGenerator) GeneratePlatformWithdrawal(b *Batch, amount int64) {
	b.Add(JournalTypePlatformWithdrawal, NewExternalAccountKey(SubTypeExternalPayouts), NewPlatformFeeAccount(), amount)
}

// GenerateCreatorWithdrawal empties a creator's fee account.
func (jg *JournalGenerator) GenerateCreatorWithdrawal(b *Batch, creator common.Address, amount int64) {
	b.Add(JournalTypeCreatorWithdrawal, NewExternalAccountKey(SubTypeExternalPayouts), NewCreatorFeeAccount(creator), amount)
}
