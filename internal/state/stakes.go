package state

import (
	"github.com/ethereum/go-ethereum/common"
)

type PoolKey struct {
	MarketID uint64
	Outcome  uint32
}

type StakeKey struct {
	MarketID uint64
	Outcome  uint32
	User     common.Address
}

type userMarketKey struct {
	User     common.Address
	MarketID uint64
}

// StakeBook tracks per-user stakes, per-outcome pools, participant lists in
// first-stake order, and the per-user index of touched markets.
type StakeBook struct {
	stakes       map[StakeKey]int64
	pools        map[PoolKey]int64
	participants map[PoolKey][]common.Address
	userMarkets  map[common.Address][]uint64
	touched      map[userMarketKey]struct{}
}

func NewStakeBook() *StakeBook {
	return &StakeBook{
		stakes:       make(map[StakeKey]int64),
		pools:        make(map[PoolKey]int64),
		participants: make(map[PoolKey][]common.Address),
		userMarkets:  make(map[common.Address][]uint64),
		touched:      make(map[userMarketKey]struct{}),
	}
}

// Place adds amount to the caller's stake on one outcome.
func (sb *StakeBook) Place(marketID uint64, outcome uint32, user common.Address, amount int64) {
	sk := StakeKey{MarketID: marketID, Outcome: outcome, User: user}
	pk := PoolKey{MarketID: marketID, Outcome: outcome}

	if sb.stakes[sk] == 0 {
		sb.participants[pk] = append(sb.participants[pk], user)
	}
	sb.stakes[sk] += amount
	sb.pools[pk] += amount

	uk := userMarketKey{User: user, MarketID: marketID}
	if _, ok := sb.touched[uk]; !ok {
		sb.touched[uk] = struct{}{}
		sb.userMarkets[user] = append(sb.userMarkets[user], marketID)
	}
}

func (sb *StakeBook) Stake(marketID uint64, outcome uint32, user common.Address) int64 {
	return sb.stakes[StakeKey{MarketID: marketID, Outcome: outcome, User: user}]
}

func (sb *StakeBook) Pool(marketID uint64, outcome uint32) int64 {
	return sb.pools[PoolKey{MarketID: marketID, Outcome: outcome}]
}

// Participants returns a copy of the pool's participant list.
func (sb *StakeBook) Participants(marketID uint64, outcome uint32) []common.Address {
	src := sb.participants[PoolKey{MarketID: marketID, Outcome: outcome}]
	return append([]common.Address{}, src...)
}

// UserMarkets returns a copy of the market ids the user has staked on, in first-stake order.
func (sb *StakeBook) UserMarkets(user common.Address) []uint64 {
	return append([]uint64{}, sb.userMarkets[user]...)
}

// UserStakes returns the user's stake on each of the market's outcomes.
func (sb *StakeBook) UserStakes(marketID uint64, outcomes int, user common.Address) []int64 {
	out := make([]int64, outcomes)
	for i := range out {
		out[i] = sb.Stake(marketID, uint32(i), user)
	}
	return out
}

// UserTotal sums the user's stakes across the market's outcomes.
func (sb *StakeBook) UserTotal(marketID uint64, outcomes int, user common.Address) int64 {
	var total int64
	for i := 0; i < outcomes; i++ {
		total += sb.Stake(marketID, uint32(i), user)
	}
	return total
}

// StakeRecord is one row of a stake snapshot, in placement order.
type StakeRecord struct {
	MarketID uint64         `json:"market_id"`
	Outcome  uint32         `json:"outcome"`
	User     common.Address `json:"user"`
	Amount   int64          `json:"amount"`
}

// StakeSnapshot preserves participant and user-index ordering.
type StakeSnapshot struct {
	Stakes      []StakeRecord       `json:"stakes"`
	UserMarkets map[string][]uint64 `json:"user_markets"`
}

// Snapshot walks pools in key order and participants in insertion order.
func (sb *StakeBook) Snapshot() StakeSnapshot {
	keys := make([]PoolKey, 0, len(sb.participants))
	for pk := range sb.participants {
		keys = append(keys, pk)
	}
	sortPoolKeys(keys)

	snap := StakeSnapshot{
		Stakes:      make([]StakeRecord, 0, len(sb.stakes)),
		UserMarkets: make(map[string][]uint64, len(sb.userMarkets)),
	}
	for _, pk := range keys {
		for _, user := range sb.participants[pk] {
			snap.Stakes = append(snap.Stakes, StakeRecord{
				MarketID: pk.MarketID,
				Outcome:  pk.Outcome,
				User:     user,
				Amount:   sb.stakes[StakeKey{MarketID: pk.MarketID, Outcome: pk.Outcome, User: user}],
			})
		}
	}
	for user, ids := range sb.userMarkets {
		snap.UserMarkets[user.Hex()] = append([]uint64(nil), ids...)
	}
	return snap
}

// Restore rebuilds the book from a snapshot.
func (sb *StakeBook) Restore(snap StakeSnapshot) {
	*sb = *NewStakeBook()
	for _, rec := range snap.Stakes {
		sk := StakeKey{MarketID: rec.MarketID, Outcome: rec.Outcome, User: rec.User}
		pk := PoolKey{MarketID: rec.MarketID, Outcome: rec.Outcome}
		sb.stakes[sk] = rec.Amount
		sb.pools[pk] += rec.Amount
		sb.participants[pk] = append(sb.participants[pk], rec.User)
	}
	for hex, ids := range snap.UserMarkets {
		user := common.HexToAddress(hex)
		sb.userMarkets[user] = append([]uint64(nil), ids...)
		for _, id := range ids {
			sb.touched[userMarketKey{User: user, MarketID: id}] = struct{}{}
		}
	}
}
