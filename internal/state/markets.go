package state

import (
	"github.com/ethereum/go-ethereum/common"
)

// Market is one prediction event and its settlement bookkeeping.
// Resolved and Cancelled are mutually exclusive and never revert.
type Market struct {
	ID                 uint64         `json:"id"`
	Name               string         `json:"name"`
	Outcomes           []string       `json:"outcomes"`
	Creator            common.Address `json:"creator"`
	Oracle             common.Address `json:"oracle"` // zero: creator resolves
	Deadline           int64          `json:"deadline"`
	CreatedAt          int64          `json:"created_at"`
	Resolved           bool           `json:"resolved"`
	Cancelled          bool           `json:"cancelled"`
	WinningOutcome     uint32         `json:"winning_outcome"`
	TotalPool          int64          `json:"total_pool"` // after fee once resolved
	ResolvedTimestamp  int64          `json:"resolved_timestamp"`
	PlatformFee        int64          `json:"platform_fee"`
	CreatorFee         int64          `json:"creator_fee"`
	ClaimedTotal       int64          `json:"claimed_total"` // winner payouts
	UnclaimedCollected bool           `json:"unclaimed_collected"`
	CollectedAmount    int64          `json:"collected_amount"`
}

// Resolver is the principal allowed to declare the winner.
func (m *Market) Resolver() common.Address {
	if m.Oracle == (common.Address{}) {
		return m.Creator
	}
	return m.Oracle
}

func (m *Market) ValidOutcome(i uint32) bool {
	return int(i) < len(m.Outcomes)
}

// Open reports whether the market is neither resolved nor cancelled.
func (m *Market) Open() bool {
	return !m.Resolved && !m.Cancelled
}

// Outstanding is what the escrow still owes winners, refunds or the owner.
func (m *Market) Outstanding() int64 {
	return m.TotalPool - m.ClaimedTotal - m.CollectedAmount
}

// Clone returns a deep copy safe to hand to readers.
func (m *Market) Clone() *Market {
	c := *m
	c.Outcomes = append([]string(nil), m.Outcomes...)
	return &c
}

// MarketRegistry owns all markets. Ids are dense and start at 0.
type MarketRegistry struct {
	markets []*Market
}

func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{
		markets: make([]*Market, 0, 64),
	}
}

// Create registers a new market under the next id.
func (r *MarketRegistry) Create(name string, outcomes []string, creator, oracle common.Address, createdAt, deadline int64) *Market {
	m := &Market{
		ID:        uint64(len(r.markets)),
		Name:      name,
		Outcomes:  append([]string(nil), outcomes...),
		Creator:   creator,
		Oracle:    oracle,
		CreatedAt: createdAt,
		Deadline:  deadline,
	}
	r.markets = append(r.markets, m)
	return m
}

// Get returns the live market; callers must hold the engine lock.
func (r *MarketRegistry) Get(id uint64) (*Market, bool) {
	if id >= uint64(len(r.markets)) {
		return nil, false
	}
	return r.markets[id], true
}

func (r *MarketRegistry) NextID() uint64 {
	return uint64(len(r.markets))
}

// Each calls fn for every market in id order until fn returns false.
func (r *MarketRegistry) Each(fn func(*Market) bool) {
	for _, m := range r.markets {
		if !fn(m) {
			return
		}
	}
}

// Snapshot returns deep copies of all markets in id order.
func (r *MarketRegistry) Snapshot() []*Market {
	out := make([]*Market, len(r.markets))
	for i, m := range r.markets {
		out[i] = m.Clone()
	}
	return out
}

// Restore replaces the registry contents. Markets must be ordered by id with no gaps.
func (r *MarketRegistry) Restore(markets []*Market) error {
	for i, m := range markets {
		if m.ID != uint64(i) {
			return errMarketGap(uint64(i), m.ID)
		}
	}
	r.markets = make([]*Market, len(markets))
	for i, m := range markets {
		r.markets[i] = m.Clone()
	}
	return nil
}
