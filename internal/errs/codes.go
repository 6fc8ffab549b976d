// Package errs defines the ledger's domain errors.
package errs

import "google.golang.org/grpc/codes"

// Kind groups failure causes into the categories callers branch on.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindInvalidInput
	KindInvalidState
	KindNothingToAct
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindInvalidInput:
		return "InvalidInput"
	case KindInvalidState:
		return "InvalidState"
	case KindNothingToAct:
		return "NothingToAct"
	default:
		return "Internal"
	}
}

// ParseKind is the inverse of Kind.String; unknown names map to KindInternal.
func ParseKind(s string) Kind {
	for k := KindNotFound; k <= KindNothingToAct; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindInternal
}

// GRPCCode maps the kind to a gRPC status code.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindNotFound:
		return codes.NotFound
	case KindForbidden:
		return codes.PermissionDenied
	case KindInvalidInput:
		return codes.InvalidArgument
	case KindInvalidState, KindNothingToAct:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// Code is a machine-readable failure cause.
type Code string

const (
	// Event registry
	CodeEventNotFound      Code = "EVENT_NOT_FOUND"
	CodeTooFewOutcomes     Code = "TOO_FEW_OUTCOMES"
	CodeInvalidDuration    Code = "INVALID_DURATION"
	CodeNotCreator         Code = "NOT_CREATOR"
	CodeNotResolver        Code = "NOT_RESOLVER"
	CodeAlreadyResolved    Code = "ALREADY_RESOLVED"
	CodeAlreadyCancelled   Code = "ALREADY_CANCELLED"
	CodeEventCancelled     Code = "EVENT_CANCELLED"
	CodeDeadlineNotReached Code = "DEADLINE_NOT_REACHED"
	CodeInvalidWinner      Code = "INVALID_WINNING_OUTCOME"

	// Stake ledger
	CodeInvalidOutcome   Code = "INVALID_OUTCOME"
	CodeInvalidAmount    Code = "INVALID_AMOUNT"
	CodePredictionClosed Code = "PREDICTION_CLOSED"

	// Settlement
	CodeNotResolved         Code = "NOT_RESOLVED"
	CodeNoWinningPrediction Code = "NO_WINNING_PREDICTION"
	CodeAlreadyClaimed      Code = "ALREADY_CLAIMED"
	CodeNoRefund            Code = "NO_REFUND"
	CodeTooEarly            Code = "TOO_EARLY"
	CodeAlreadyCollected    Code = "ALREADY_COLLECTED"
	CodeNothingToCollect    Code = "NOTHING_TO_COLLECT"
	CodeNoPlatformFees      Code = "NO_PLATFORM_FEES"
	CodeNoCreatorFees       Code = "NO_CREATOR_FEES"
	CodePaymentFailed       Code = "PAYMENT_FAILED"

	// Oracle registry and ownership
	CodeNotOwner           Code = "NOT_OWNER"
	CodeUnauthorizedOracle Code = "UNAUTHORIZED_ORACLE"
	CodeZeroAddress        Code = "ZERO_ADDRESS"
	CodeEmptyName          Code = "EMPTY_NAME"
	CodeAlreadyRegistered  Code = "ORACLE_ALREADY_REGISTERED"
	CodeNameTaken          Code = "ORACLE_NAME_TAKEN"
	CodeOracleNotFound     Code = "ORACLE_NOT_FOUND"

	// Command plumbing
	CodeUnknownCommand Code = "UNKNOWN_COMMAND"
	CodeMalformed      Code = "MALFORMED_COMMAND"
	CodeDedupFailed    Code = "DEDUP_UNAVAILABLE"
)
