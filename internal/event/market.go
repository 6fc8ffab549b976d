package event

import "github.com/ethereum/go-ethereum/common"

type EventCreated struct {
	EventID  uint64         `json:"event_id"`
	Creator  common.Address `json:"creator"`
	Oracle   common.Address `json:"oracle"`
	Name     string         `json:"name"`
	Outcomes []string       `json:"outcomes"`
	Deadline int64          `json:"deadline"`
}

func (EventCreated) Kind() Kind { return KindEventCreated }

type PredictionPlaced struct {
	EventID      uint64         `json:"event_id"`
	Predictor    common.Address `json:"predictor"`
	OutcomeIndex uint32         `json:"outcome_index"`
	Amount       int64          `json:"amount"`
}

func (PredictionPlaced) Kind() Kind { return KindPredictionPlaced }

type EventResolved struct {
	EventID        uint64         `json:"event_id"`
	WinningOutcome uint32         `json:"winning_outcome"`
	Resolver       common.Address `json:"resolver"`
	TotalPool      int64          `json:"total_pool"`
}

func (EventResolved) Kind() Kind { return KindEventResolved }

type EventCancelled struct {
	EventID uint64         `json:"event_id"`
	Creator common.Address `json:"creator"`
}

func (EventCancelled) Kind() Kind { return KindEventCancelled }
