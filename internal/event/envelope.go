package event

import (
	"time"
)

// Kind discriminates notification payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindEventCreated
	KindPredictionPlaced
	KindEventResolved
	KindEventCancelled
	KindPayoutClaimed
	KindPlatformFeeCollected
	KindPlatformFeeWithdrawn
	KindCreatorFeeWithdrawn
	KindUnclaimedWinningsCollected
	KindOracleRegistered
	KindOracleDeregistered
	KindOwnershipTransferred
)

// Envelope wraps the notifications produced by one applied command
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Upstream command id, used for deduplication
	IdempotencyKey string

	// Command type that produced this envelope
	CommandType string

	// Event id the command touched (nil for registry and fee commands)
	MarketID *uint64

	// Caller-supplied timestamp, never wall-clock
	Timestamp time.Time

	// JSON-encoded command, replayed on recovery
	Payload []byte

	Notifications []Notification

	// SHA-256 chain over the notifications
	StateHash [32]byte
	PrevHash  [32]byte
}

// Notification is the interface every emitted record implements
type Notification interface {
	Kind() Kind
}

func (k Kind) String() string {
	switch k {
	case KindEventCreated:
		return "EventCreated"
	case KindPredictionPlaced:
		return "PredictionPlaced"
	case KindEventResolved:
		return "EventResolved"
	case KindEventCancelled:
		return "EventCancelled"
	case KindPayoutClaimed:
		return "PayoutClaimed"
	case KindPlatformFeeCollected:
		return "PlatformFeeCollected"
	case KindPlatformFeeWithdrawn:
		return "PlatformFeeWithdrawn"
	case KindCreatorFeeWithdrawn:
		return "CreatorFeeWithdrawn"
	case KindUnclaimedWinningsCollected:
		return "UnclaimedWinningsCollected"
	case KindOracleRegistered:
		return "OracleRegistered"
	case KindOracleDeregistered:
		return "OracleDeregistered"
	case KindOwnershipTransferred:
		return "OwnershipTransferred"
	default:
		return "Unknown"
	}
}
