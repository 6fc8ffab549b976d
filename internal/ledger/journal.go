package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeStake JournalType = iota
	JournalTypePlatformFee
	JournalTypeCreatorFee
	JournalTypePayout
	JournalTypeRefund
	JournalTypeSweep
	JournalTypePlatformWithdrawal
	JournalTypeCreatorWithdrawal
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeStake:
		return "stake"
	case JournalTypePlatformFee:
		return "platform_fee"
	case JournalTypeCreatorFee:
		return "creator_fee"
	case JournalTypePayout:
		return "payout"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeSweep:
		return "sweep"
	case JournalTypePlatformWithdrawal:
		return "platform_withdrawal"
	case JournalTypeCreatorWithdrawal:
		return "creator_withdrawal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   `json:"journal_id"`
	BatchID       uuid.UUID   `json:"batch_id"`
	EventRef      string      `json:"event_ref"` // Idempotency key of source command
	Sequence      int64       `json:"sequence"`
	DebitAccount  AccountKey  `json:"debit_account"`  // balance increases
	CreditAccount AccountKey  `json:"credit_account"` // balance decreases
	Amount        int64       `json:"amount"`         // ALWAYS positive
	JournalType   JournalType `json:"journal_type"`
	Timestamp     int64       `json:"timestamp"` // Unix seconds, from the command
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID `json:"batch_id"`
	EventRef  string    `json:"event_ref"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
	Journals  []Journal `json:"journals"`
}

// NewBatch starts an empty batch for one command.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}
}

// Add appends a transfer of amount from credit to debit. Zero amounts are skipped.
func (b *Batch) Add(jt JournalType, debit, credit AccountKey, amount int64) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount between two accounts, so every
// entry is balanced by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
