package query

import (
	"PredictLedger/internal/core"

	"github.com/ethereum/go-ethereum/common"
)

// EventResponse is an event with its pools and display amounts.
type EventResponse struct {
	core.EventDetails
	TotalPoolDisplay string `json:"total_pool_display"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// EventListItem is one row of the projected markets table.
type EventListItem struct {
	EventID        uint64   `json:"event_id"`
	Name           string   `json:"name"`
	Outcomes       []string `json:"outcomes"`
	Creator        string   `json:"creator"`
	Oracle         string   `json:"oracle"`
	Deadline       int64    `json:"deadline"`
	Status         string   `json:"status"`
	WinningOutcome *int32   `json:"winning_outcome,omitempty"`
	TotalStaked    int64    `json:"total_staked"`
	PaidOut        int64    `json:"paid_out"`
	AsOfSequence   int64    `json:"as_of_sequence"`
}

// BalanceResponse is a fee balance with its coin rendering.
type BalanceResponse struct {
	Owner        common.Address `json:"owner"`
	Balance      int64          `json:"balance"`
	Display      string         `json:"display"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool              `json:"is_healthy"`
	HashChainBreaks []int64           `json:"hash_chain_breaks,omitempty"`
	Mismatches      []AccountMismatch `json:"mismatches,omitempty"`
	// Balances are compared only when the log has caught up with the engine.
	BalancesChecked  bool  `json:"balances_checked"`
	EngineSequence   int64 `json:"engine_sequence"`
	PersistedThrough int64 `json:"persisted_through"`
}

// AccountMismatch is an account whose journal-derived balance differs from
// the in-memory one.
type AccountMismatch struct {
	Account  string `json:"account"`
	InMemory int64  `json:"in_memory"`
	Journal  int64  `json:"journal"`
}
