package projection

import (
	"PredictLedger/internal/event"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ActivityEntry is one stake, claim or fee withdrawal by a user.
type ActivityEntry struct {
	Sequence  int64          `json:"sequence"`
	User      common.Address `json:"user"`
	Kind      string         `json:"kind"`
	EventID   *uint64        `json:"event_id,omitempty"`
	Outcome   *uint32        `json:"outcome,omitempty"`
	Amount    int64          `json:"amount"`
	Timestamp int64          `json:"timestamp"`
}

// ActivityProjection keeps a bounded in-memory history per user for the
// query API. Older entries past the cap are dropped.
type ActivityProjection struct {
	mu      sync.RWMutex
	perUser map[common.Address][]ActivityEntry
	cap     int
}

func NewActivityProjection(perUserCap int) *ActivityProjection {
	if perUserCap <= 0 {
		perUserCap = 1000
	}
	return &ActivityProjection{
		perUser: make(map[common.Address][]ActivityEntry),
		cap:     perUserCap,
	}
}

// Apply records the user-facing notifications of one output.
func (p *ActivityProjection) Apply(output ProjectionOutput) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := output.Timestamp.Unix()
	for _, n := range output.Notifications {
		entry := ActivityEntry{Sequence: output.Sequence, Timestamp: ts, Kind: n.Kind().String()}
		switch e := n.(type) {
		case event.PredictionPlaced:
			id, outcome := e.EventID, e.OutcomeIndex
			entry.User, entry.EventID, entry.Outcome, entry.Amount = e.Predictor, &id, &outcome, e.Amount
		case event.PayoutClaimed:
			id := e.EventID
			entry.User, entry.EventID, entry.Amount = e.Winner, &id, e.Amount
			if e.Refund {
				entry.Kind = "Refund"
			}
		case event.UnclaimedWinningsCollected:
			id := e.EventID
			entry.User, entry.EventID, entry.Amount = e.Owner, &id, e.Amount
		case event.PlatformFeeWithdrawn:
			entry.User, entry.Amount = e.Owner, e.Amount
		case event.CreatorFeeWithdrawn:
			entry.User, entry.Amount = e.Creator, e.Amount
		default:
			continue
		}
		p.add(entry)
	}
}

func (p *ActivityProjection) add(entry ActivityEntry) {
	entries := append(p.perUser[entry.User], entry)
	if len(entries) > p.cap {
		entries = entries[len(entries)-p.cap:]
	}
	p.perUser[entry.User] = entries
}

// QueryByUser returns up to limit entries for user, newest first.
func (p *ActivityProjection) QueryByUser(user common.Address, limit int) []ActivityEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := p.perUser[user]
	result := make([]ActivityEntry, 0)
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i])
	}
	return result
}
