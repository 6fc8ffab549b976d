package command

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type CreateEvent struct {
	Meta
	Name     string         `json:"name"`
	Outcomes []string       `json:"outcomes"`
	Duration int64          `json:"duration"`
	Oracle   common.Address `json:"oracle"`
}

func (c *CreateEvent) CommandType() Type { return TypeCreateEvent }
func (c *CreateEvent) MarketID() *uint64 { return nil }

type CreateEventByOracle struct {
	Meta
	Name     string   `json:"name"`
	Outcomes []string `json:"outcomes"`
	Duration int64    `json:"duration"`
}

func (c *CreateEventByOracle) CommandType() Type { return TypeCreateEventByOracle }
func (c *CreateEventByOracle) MarketID() *uint64 { return nil }

type MakePrediction struct {
	Meta
	EventID      uint64 `json:"event_id"`
	OutcomeIndex uint32 `json:"outcome_index"`
	Amount       int64  `json:"amount"`
}

func (c *MakePrediction) CommandType() Type { return TypeMakePrediction }
func (c *MakePrediction) MarketID() *uint64 { return &c.EventID }

type ResolveEvent struct {
	Meta
	EventID        uint64 `json:"event_id"`
	WinningOutcome uint32 `json:"winning_outcome"`
}

func (c *ResolveEvent) CommandType() Type { return TypeResolveEvent }
func (c *ResolveEvent) MarketID() *uint64 { return &c.EventID }

type CancelEvent struct {
	Meta
	EventID uint64 `json:"event_id"`
}

func (c *CancelEvent) CommandType() Type { return TypeCancelEvent }
func (c *CancelEvent) MarketID() *uint64 { return &c.EventID }

type ClaimPayout struct {
	Meta
	EventID uint64 `json:"event_id"`
}

func (c *ClaimPayout) CommandType() Type { return TypeClaimPayout }
func (c *ClaimPayout) MarketID() *uint64 { return &c.EventID }

type CollectUnclaimed struct {
	Meta
	EventID uint64 `json:"event_id"`
}

func (c *CollectUnclaimed) CommandType() Type { return TypeCollectUnclaimed }
func (c *CollectUnclaimed) MarketID() *uint64 { return &c.EventID }

type WithdrawPlatformFees struct {
	Meta
}

func (c *WithdrawPlatformFees) CommandType() Type { return TypeWithdrawPlatformFees }
func (c *WithdrawPlatformFees) MarketID() *uint64 { return nil }

type WithdrawCreatorFees struct {
	Meta
}

func (c *WithdrawCreatorFees) CommandType() Type { return TypeWithdrawCreatorFees }
func (c *WithdrawCreatorFees) MarketID() *uint64 { return nil }

type RegisterOracle struct {
	Meta
	Name   string         `json:"name"`
	Oracle common.Address `json:"oracle"`
}

func (c *RegisterOracle) CommandType() Type { return TypeRegisterOracle }
func (c *RegisterOracle) MarketID() *uint64 { return nil }

type DeregisterOracle struct {
	Meta
	Name string `json:"name"`
}

func (c *DeregisterOracle) CommandType() Type { return TypeDeregisterOracle }
func (c *DeregisterOracle) MarketID() *uint64 { return nil }

type TransferOwnership struct {
	Meta
	NewOwner common.Address `json:"new_owner"`
}

func (c *TransferOwnership) CommandType() Type { return TypeTransferOwnership }
func (c *TransferOwnership) MarketID() *uint64 { return nil }

// New returns an empty command of type t, ready to be decoded into.
func New(t Type) (Command, bool) {
	switch t {
	case TypeCreateEvent:
		return &CreateEvent{}, true
	case TypeCreateEventByOracle:
		return &CreateEventByOracle{}, true
	case TypeMakePrediction:
		return &MakePrediction{}, true
	case TypeResolveEvent:
		return &ResolveEvent{}, true
	case TypeCancelEvent:
		return &CancelEvent{}, true
	case TypeClaimPayout:
		return &ClaimPayout{}, true
	case TypeCollectUnclaimed:
		return &CollectUnclaimed{}, true
	case TypeWithdrawPlatformFees:
		return &WithdrawPlatformFees{}, true
	case TypeWithdrawCreatorFees:
		return &WithdrawCreatorFees{}, true
	case TypeRegisterOracle:
		return &RegisterOracle{}, true
	case TypeDeregisterOracle:
		return &DeregisterOracle{}, true
	case TypeTransferOwnership:
		return &TransferOwnership{}, true
	}
	return nil, false
}

// Decode rebuilds a command from its type name and JSON payload.
func Decode(typeName string, payload []byte) (Command, error) {
	t, ok := ParseType(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown command type: %s", typeName)
	}
	cmd, _ := New(t)
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typeName, err)
	}
	return cmd, nil
}
