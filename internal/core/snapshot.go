package core

import (
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/state"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence  int64                       `json:"sequence"` // last applied
	StateHash [32]byte                    `json:"state_hash"`
	Owner     common.Address              `json:"owner"`
	Clock     int64                       `json:"clock"` // latest applied timestamp
	Markets   []*state.Market             `json:"markets"`
	Stakes    state.StakeSnapshot         `json:"stakes"`
	Claims    []state.ClaimSnapshotRecord `json:"claims"`
	Oracles   []state.OracleRecord        `json:"oracles"`
	Balances  []ledger.AccountBalance     `json:"balances"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return &SnapshotState{
		Sequence:  e.sequence - 1,
		StateHash: e.hasher.Tip(),
		Owner:     e.owner,
		Clock:     e.clock,
		Markets:   e.markets.Snapshot(),
		Stakes:    e.stakes.Snapshot(),
		Claims:    e.claims.Snapshot(),
		Oracles:   e.oracles.All(),
		Balances:  e.balances.Snapshot(),
	}
}

// RestoreFromSnapshot replaces the engine state; the next command gets
// snap.Sequence+1 and chains onto snap.StateHash. The snapshot is loaded
// into fresh structures and checked first; on error the engine is untouched.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	markets := state.NewMarketRegistry()
	if err := markets.Restore(snap.Markets); err != nil {
		return fmt.Errorf("restore markets: %w", err)
	}
	stakes := state.NewStakeBook()
	stakes.Restore(snap.Stakes)
	claims := state.NewClaimBook()
	claims.Restore(snap.Claims)
	oracles := state.NewOracleRegistry()
	oracles.Restore(snap.Oracles)

	balances := ledger.NewBalanceTracker()
	for _, ab := range snap.Balances {
		balances.SetBalance(ab.Account, ab.Balance)
	}
	validator := ledger.NewInvariantValidator(balances)

	if err := validator.ValidateGlobalBalance(); err != nil {
		return fmt.Errorf("restored snapshot: %w", err)
	}
	var mismatch error
	markets.Each(func(m *state.Market) bool {
		mismatch = validator.ValidateEscrow(m.ID, m.Outstanding())
		return mismatch == nil
	})
	if mismatch != nil {
		return fmt.Errorf("restored snapshot: %w", mismatch)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.markets = markets
	e.stakes = stakes
	e.claims = claims
	e.oracles = oracles
	e.balances = balances
	e.validator = validator
	e.owner = snap.Owner
	e.clock = snap.Clock
	e.sequence = snap.Sequence + 1
	e.hasher.Reset(snap.StateHash)
	e.replayCursor.Reset(e.sequence)
	return nil
}
