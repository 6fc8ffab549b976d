package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies the batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateEscrow verifies an event escrow holds exactly what the event still owes.
func (v *InvariantValidator) ValidateEscrow(marketID uint64, expected int64) error {
	balance := v.tracker.EscrowBalance(marketID)
	if balance < 0 {
		return fmt.Errorf("escrow for event %d is negative: %d", marketID, balance)
	}
	if balance != expected {
		return fmt.Errorf("escrow for event %d is %d, expected %d", marketID, balance, expected)
	}
	return nil
}

// ValidateInternalAccountsNonNegative checks every non-external account touched by a batch
func (v *InvariantValidator) ValidateInternalAccountsNonNegative(batch *Batch) error {
	for _, j := range batch.Journals {
		for _, key := range []AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope == AccountScopeExternal {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); total != 0 {
		return fmt.Errorf("global balance is non-zero: %d", total)
	}
	return nil
}
