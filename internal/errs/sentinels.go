package errs

// Sentinels, one per failure cause. Messages are stable and user-facing.
var (
	ErrEventNotFound      = New(KindNotFound, CodeEventNotFound, "Event does not exist")
	ErrTooFewOutcomes     = New(KindInvalidInput, CodeTooFewOutcomes, "Must have at least 2 outcomes")
	ErrInvalidDuration    = New(KindInvalidInput, CodeInvalidDuration, "Prediction duration must be positive")
	ErrNotCreator         = New(KindForbidden, CodeNotCreator, "Only event creator can call this")
	ErrNotResolver        = New(KindForbidden, CodeNotResolver, "Only the assigned oracle can resolve this event")
	ErrAlreadyResolved    = New(KindInvalidState, CodeAlreadyResolved, "Event already resolved")
	ErrCannotCancel       = New(KindInvalidState, CodeAlreadyResolved, "Cannot cancel resolved event")
	ErrAlreadyCancelled   = New(KindInvalidState, CodeAlreadyCancelled, "Event already cancelled")
	ErrEventCancelled     = New(KindInvalidState, CodeEventCancelled, "Event has been cancelled")
	ErrDeadlineNotReached = New(KindInvalidState, CodeDeadlineNotReached, "Prediction deadline has not passed")
	ErrInvalidWinner      = New(KindInvalidInput, CodeInvalidWinner, "Invalid winning outcome")

	ErrInvalidOutcome   = New(KindInvalidInput, CodeInvalidOutcome, "Invalid outcome index")
	ErrInvalidAmount    = New(KindInvalidInput, CodeInvalidAmount, "Prediction amount must be greater than 0")
	ErrPredictionClosed = New(KindInvalidState, CodePredictionClosed, "Prediction deadline has passed")

	ErrNotResolved         = New(KindInvalidState, CodeNotResolved, "Event not resolved yet")
	ErrNoWinningPrediction = New(KindNothingToAct, CodeNoWinningPrediction, "No winning prediction found")
	ErrAlreadyClaimed      = New(KindInvalidState, CodeAlreadyClaimed, "Payout already claimed")
	ErrNoRefund            = New(KindNothingToAct, CodeNoRefund, "No refund available")
	ErrTooEarly            = New(KindInvalidState, CodeTooEarly, "Must wait 10 years after event resolution")
	ErrAlreadyCollected    = New(KindInvalidState, CodeAlreadyCollected, "Unclaimed winnings already collected")
	ErrNothingToCollect    = New(KindNothingToAct, CodeNothingToCollect, "No unclaimed winnings available")
	ErrNoPlatformFees      = New(KindNothingToAct, CodeNoPlatformFees, "No platform fees to withdraw")
	ErrNoCreatorFees       = New(KindNothingToAct, CodeNoCreatorFees, "No creator fees to withdraw")
	ErrPaymentFailed       = New(KindInternal, CodePaymentFailed, "Payment failed")

	ErrNotOwner           = New(KindForbidden, CodeNotOwner, "Ownable: caller is not the owner")
	ErrUnauthorizedOracle = New(KindForbidden, CodeUnauthorizedOracle, "Oracle is not authorized")
	ErrZeroAddress        = New(KindInvalidInput, CodeZeroAddress, "Address cannot be zero")
	ErrEmptyName          = New(KindInvalidInput, CodeEmptyName, "Oracle name cannot be empty")
	ErrAlreadyRegistered  = New(KindInvalidState, CodeAlreadyRegistered, "Oracle already registered")
	ErrNameTaken          = New(KindInvalidState, CodeNameTaken, "Oracle name already taken")
	ErrOracleNotFound     = New(KindNotFound, CodeOracleNotFound, "Oracle does not exist")

	ErrUnknownCommand = New(KindInvalidInput, CodeUnknownCommand, "Unknown command type")
	ErrMalformed      = New(KindInvalidInput, CodeMalformed, "Malformed command")
	ErrDedupFailed    = New(KindInternal, CodeDedupFailed, "Duplicate check unavailable")
)
