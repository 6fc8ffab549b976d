package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites a balance; used on snapshot restore only.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	if balance == 0 {
		delete(bt.balances, key)
		return
	}
	bt.balances[key] = balance
}

func (bt *BalanceTracker) EscrowBalance(marketID uint64) int64 {
	return bt.GetBalance(NewEscrowAccount(marketID))
}

func (bt *BalanceTracker) PlatformFeeBalance() int64 {
	return bt.GetBalance(NewPlatformFeeAccount())
}

func (bt *BalanceTracker) CreatorFeeBalance(creator common.Address) int64 {
	return bt.GetBalance(NewCreatorFeeAccount(creator))
}

// ComputeGlobalBalance sums all account balances (0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() int64 {
	var total int64
	for _, balance := range bt.balances {
		total += balance
	}
	return total
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// AccountBalance is one row of a balance snapshot
type AccountBalance struct {
	Account AccountKey `json:"account"`
	Balance int64      `json:"balance"`
}

// Snapshot returns all non-zero balances ordered by account path
func (bt *BalanceTracker) Snapshot() []AccountBalance {
	out := make([]AccountBalance, 0, len(bt.balances))
	for k, v := range bt.balances {
		if v == 0 {
			continue
		}
		out = append(out, AccountBalance{Account: k, Balance: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.AccountPath() < out[j].Account.AccountPath()
	})
	return out
}
