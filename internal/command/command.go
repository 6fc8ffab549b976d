// Package command defines the typed inputs that mutate the ledger.
package command

import (
	"github.com/ethereum/go-ethereum/common"
)

// Type discriminates commands
type Type int32

const (
	TypeUnknown Type = iota
	TypeCreateEvent
	TypeCreateEventByOracle
	TypeMakePrediction
	TypeResolveEvent
	TypeCancelEvent
	TypeClaimPayout
	TypeCollectUnclaimed
	TypeWithdrawPlatformFees
	TypeWithdrawCreatorFees
	TypeRegisterOracle
	TypeDeregisterOracle
	TypeTransferOwnership
)

// AllTypes lists every known command type.
var AllTypes = []Type{
	TypeCreateEvent,
	TypeCreateEventByOracle,
	TypeMakePrediction,
	TypeResolveEvent,
	TypeCancelEvent,
	TypeClaimPayout,
	TypeCollectUnclaimed,
	TypeWithdrawPlatformFees,
	TypeWithdrawCreatorFees,
	TypeRegisterOracle,
	TypeDeregisterOracle,
	TypeTransferOwnership,
}

func (t Type) String() string {
	switch t {
	case TypeCreateEvent:
		return "CreateEvent"
	case TypeCreateEventByOracle:
		return "CreateEventByOracle"
	case TypeMakePrediction:
		return "MakePrediction"
	case TypeResolveEvent:
		return "ResolveEvent"
	case TypeCancelEvent:
		return "CancelEvent"
	case TypeClaimPayout:
		return "ClaimPayout"
	case TypeCollectUnclaimed:
		return "CollectUnclaimedWinnings"
	case TypeWithdrawPlatformFees:
		return "WithdrawPlatformFees"
	case TypeWithdrawCreatorFees:
		return "WithdrawCreatorFees"
	case TypeRegisterOracle:
		return "RegisterOracle"
	case TypeDeregisterOracle:
		return "DeregisterOracle"
	case TypeTransferOwnership:
		return "TransferOwnership"
	default:
		return "Unknown"
	}
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, bool) {
	for _, t := range AllTypes {
		if t.String() == s {
			return t, true
		}
	}
	return TypeUnknown, false
}

// Call carries the authenticated caller and the time the call is evaluated at.
type Call struct {
	Caller    common.Address `json:"caller"`
	Timestamp int64          `json:"timestamp"` // Unix seconds
}

// Meta is embedded in every command.
type Meta struct {
	CommandID string `json:"command_id"`
	Call
}

func (m Meta) IdempotencyKey() string { return m.CommandID }
func (m Meta) Context() Call          { return m.Call }

// Stamp sets the time the command is evaluated at.
func (m *Meta) Stamp(ts int64) { m.Timestamp = ts }

// Command is the interface all command payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() Type

	// Context returns caller and evaluation time
	Context() Call

	// Stamp overrides the evaluation time with a trusted clock reading
	Stamp(ts int64)

	// MarketID returns the event id the command targets (nil for global commands)
	MarketID() *uint64
}
