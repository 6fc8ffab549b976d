package state

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

type claimKey struct {
	MarketID uint64
	User     common.Address
}

// ClaimRecord is the single successful claim a user can make on a market.
type ClaimRecord struct {
	Claimed bool  `json:"claimed"`
	Amount  int64 `json:"amount"`
}

// ClaimBook records payouts and refunds.
type ClaimBook struct {
	claims map[claimKey]ClaimRecord
}

func NewClaimBook() *ClaimBook {
	return &ClaimBook{
		claims: make(map[claimKey]ClaimRecord),
	}
}

func (cb *ClaimBook) Get(marketID uint64, user common.Address) ClaimRecord {
	return cb.claims[claimKey{MarketID: marketID, User: user}]
}

// Mark records a claim. It is undone with Unmark if payment fails.
func (cb *ClaimBook) Mark(marketID uint64, user common.Address, amount int64) {
	cb.claims[claimKey{MarketID: marketID, User: user}] = ClaimRecord{Claimed: true, Amount: amount}
}

func (cb *ClaimBook) Unmark(marketID uint64, user common.Address) {
	delete(cb.claims, claimKey{MarketID: marketID, User: user})
}

// ClaimSnapshotRecord is one row of a claim snapshot.
type ClaimSnapshotRecord struct {
	MarketID uint64         `json:"market_id"`
	User     common.Address `json:"user"`
	Amount   int64          `json:"amount"`
}

func (cb *ClaimBook) Snapshot() []ClaimSnapshotRecord {
	out := make([]ClaimSnapshotRecord, 0, len(cb.claims))
	for k, rec := range cb.claims {
		out = append(out, ClaimSnapshotRecord{MarketID: k.MarketID, User: k.User, Amount: rec.Amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].User.Hex() < out[j].User.Hex()
	})
	return out
}

func (cb *ClaimBook) Restore(records []ClaimSnapshotRecord) {
	cb.claims = make(map[claimKey]ClaimRecord, len(records))
	for _, r := range records {
		cb.Mark(r.MarketID, r.User, r.Amount)
	}
}
