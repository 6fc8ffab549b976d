package core

import (
	"PredictLedger/internal/errs"
	"PredictLedger/internal/ledger"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

// --- Read-only views ---
// Every view takes the read lock, so a caller sees state between commands,
// never inside one. Unknown events and outcomes read as zero unless noted.

// EventDetails is a market plus its per-outcome pools.
type EventDetails struct {
	state.Market
	Pools []int64 `json:"pools"`
}

// ResolutionInfo summarizes the sweep state of an event at a given time.
type ResolutionInfo struct {
	IsResolved          bool  `json:"is_resolved"`
	ResolvedTimestamp   int64 `json:"resolved_timestamp"`
	CanCollectUnclaimed bool  `json:"can_collect_unclaimed"`
	Collected           bool  `json:"collected"`
}

// ClaimInfo reports whether a user has claimed on an event and how much.
type ClaimInfo struct {
	HasClaimed bool  `json:"has_claimed"`
	Amount     int64 `json:"amount"`
}

// UserEventPrediction is one user's stakes on one event, indexed by outcome.
type UserEventPrediction struct {
	EventID uint64  `json:"event_id"`
	Stakes  []int64 `json:"stakes"`
}

// GetEventDetails fails with EventNotFound for an unknown id.
func (e *Engine) GetEventDetails(id uint64) (EventDetails, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, ok := e.markets.Get(id)
	if !ok {
		return EventDetails{}, errs.ErrEventNotFound
	}
	pools := make([]int64, len(m.Outcomes))
	for i := range pools {
		pools[i] = e.stakes.Pool(id, uint32(i))
	}
	return EventDetails{Market: *m.Clone(), Pools: pools}, nil
}

func (e *Engine) GetPoolAmount(id uint64, outcome uint32) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stakes.Pool(id, outcome)
}

func (e *Engine) GetUserPrediction(id uint64, outcome uint32, user common.Address) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stakes.Stake(id, outcome, user)
}

// GetPoolParticipants lists stakers of one outcome in first-stake order.
func (e *Engine) GetPoolParticipants(id uint64, outcome uint32) []common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stakes.Participants(id, outcome)
}

// CalculatePotentialPayout is what user would receive for outcome, zero
// unless the event resolved to that outcome.
func (e *Engine) CalculatePotentialPayout(id uint64, outcome uint32, user common.Address) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, ok := e.markets.Get(id)
	if !ok || !m.Resolved || m.Cancelled || outcome != m.WinningOutcome {
		return 0
	}
	return fpmath.ProportionalPayout(
		e.stakes.Stake(id, outcome, user),
		m.TotalPool,
		e.stakes.Pool(id, outcome),
	)
}

func (e *Engine) GetCreatorFeeBalance(creator common.Address) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.CreatorFeeBalance(creator)
}

func (e *Engine) GetPlatformFeeBalance() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.PlatformFeeBalance()
}

// GetEventResolutionInfo evaluates the sweep window at now.
func (e *Engine) GetEventResolutionInfo(id uint64, now int64) (ResolutionInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, ok := e.markets.Get(id)
	if !ok {
		return ResolutionInfo{}, errs.ErrEventNotFound
	}
	return ResolutionInfo{
		IsResolved:          m.Resolved,
		ResolvedTimestamp:   m.ResolvedTimestamp,
		CanCollectUnclaimed: m.Resolved && !m.UnclaimedCollected && now >= m.ResolvedTimestamp+TenYears,
		Collected:           m.UnclaimedCollected,
	}, nil
}

func (e *Engine) NextEventID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.markets.NextID()
}

func (e *Engine) IsAuthorizedOracle(addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oracles.IsAuthorized(addr)
}

// GetOracleAddress returns the zero address for an unknown name.
func (e *Engine) GetOracleAddress(name string) common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oracles.Address(name)
}

func (e *Engine) ListOracles() []state.OracleRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oracles.All()
}

// GetUserEventIDs lists events the user staked on, in first-stake order.
func (e *Engine) GetUserEventIDs(user common.Address) []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stakes.UserMarkets(user)
}

// GetUserEventPredictions returns the user's per-outcome stakes for every
// event they touched. Cost is proportional to those events only.
func (e *Engine) GetUserEventPredictions(user common.Address) []UserEventPrediction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := e.stakes.UserMarkets(user)
	out := make([]UserEventPrediction, 0, len(ids))
	for _, id := range ids {
		m, ok := e.markets.Get(id)
		if !ok {
			continue
		}
		out = append(out, UserEventPrediction{
			EventID: id,
			Stakes:  e.stakes.UserStakes(id, len(m.Outcomes), user),
		})
	}
	return out
}

func (e *Engine) GetUserClaimInfo(id uint64, user common.Address) ClaimInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec := e.claims.Get(id, user)
	return ClaimInfo{HasClaimed: rec.Claimed, Amount: rec.Amount}
}

// ListPendingResolutions returns open events resolver may resolve at now.
func (e *Engine) ListPendingResolutions(resolver common.Address, now int64) []EventDetails {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []EventDetails
	e.markets.Each(func(m *state.Market) bool {
		if m.Open() && m.Resolver() == resolver && now > m.Deadline {
			pools := make([]int64, len(m.Outcomes))
			for i := range pools {
				pools[i] = e.stakes.Pool(m.ID, uint32(i))
			}
			out = append(out, EventDetails{Market: *m.Clone(), Pools: pools})
		}
		return true
	})
	return out
}

func (e *Engine) Owner() common.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.owner
}

// LedgerBalances returns every non-zero account balance, sorted by path,
// and the last applied sequence they reflect.
func (e *Engine) LedgerBalances() ([]ledger.AccountBalance, int64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.Snapshot(), e.sequence - 1
}
