package core

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/state"
	"fmt"
)

// --- Settlement handlers ---
// Each handler validates, mutates with an undo registered, journals, and
// pays last. A failed payment unwinds the mutations through the txn.

func (e *Engine) handleClaimPayout(t *txn, c *command.ClaimPayout) error {
	m, err := e.market(c.EventID)
	if err != nil {
		return err
	}

	caller := t.call.Caller
	switch {
	case m.Cancelled:
		return e.claimRefund(t, m)
	case m.Resolved:
		// handled below
	default:
		return errs.ErrNotResolved
	}

	if e.claims.Get(m.ID, caller).Claimed {
		return errs.ErrAlreadyClaimed
	}
	if m.UnclaimedCollected {
		return errs.ErrNoWinningPrediction
	}

	stake := e.stakes.Stake(m.ID, m.WinningOutcome, caller)
	if stake == 0 {
		return errs.ErrNoWinningPrediction
	}
	payout := fpmath.ProportionalPayout(stake, m.TotalPool, e.stakes.Pool(m.ID, m.WinningOutcome))
	if payout == 0 {
		return errs.ErrNoWinningPrediction
	}
	if payout > m.Outstanding() {
		panic(fmt.Sprintf("FATAL: payout %d exceeds outstanding %d for event %d", payout, m.Outstanding(), m.ID))
	}

	e.claims.Mark(m.ID, caller, payout)
	m.ClaimedTotal += payout
	t.onRollback(func() {
		e.claims.Unmark(m.ID, caller)
		m.ClaimedTotal -= payout
	})
	e.journalGen.GeneratePayout(t.batch, m.ID, payout, false)

	id := m.ID
	if err := e.pay(t, Payment{To: caller, Amount: payout, Kind: PaymentPayout, EventID: &id}); err != nil {
		return err
	}

	t.result.EventID = m.ID
	t.result.Amount = payout
	t.emit(event.PayoutClaimed{EventID: m.ID, Winner: caller, Amount: payout})
	return nil
}

// claimRefund returns every stake the caller placed on a cancelled event.
func (e *Engine) claimRefund(t *txn, m *state.Market) error {
	id := m.ID
	caller := t.call.Caller
	if e.claims.Get(id, caller).Claimed {
		return errs.ErrNoRefund
	}
	refund := e.stakes.UserTotal(id, len(m.Outcomes), caller)
	if refund == 0 {
		return errs.ErrNoRefund
	}

	e.claims.Mark(id, caller, refund)
	m.TotalPool -= refund
	t.onRollback(func() {
		e.claims.Unmark(id, caller)
		m.TotalPool += refund
	})
	e.journalGen.GeneratePayout(t.batch, id, refund, true)

	if err := e.pay(t, Payment{To: caller, Amount: refund, Kind: PaymentRefund, EventID: &id}); err != nil {
		return err
	}

	t.result.EventID = id
	t.result.Amount = refund
	t.emit(event.PayoutClaimed{EventID: id, Winner: caller, Amount: refund, Refund: true})
	return nil
}

func (e *Engine) handleCollectUnclaimed(t *txn, c *command.CollectUnclaimed) error {
	if t.call.Caller != e.owner {
		return errs.ErrNotOwner
	}
	m, err := e.market(c.EventID)
	if err != nil {
		return err
	}
	if !m.Resolved {
		return errs.ErrNotResolved
	}
	if t.call.Timestamp < m.ResolvedTimestamp+TenYears {
		return errs.ErrTooEarly
	}
	if m.UnclaimedCollected {
		return errs.ErrAlreadyCollected
	}
	amount := m.Outstanding()
	if amount <= 0 {
		return errs.ErrNothingToCollect
	}

	m.UnclaimedCollected = true
	m.CollectedAmount = amount
	t.onRollback(func() {
		m.UnclaimedCollected = false
		m.CollectedAmount = 0
	})
	e.journalGen.GenerateSweep(t.batch, m.ID, amount)

	id := m.ID
	if err := e.pay(t, Payment{To: e.owner, Amount: amount, Kind: PaymentSweep, EventID: &id}); err != nil {
		return err
	}

	t.result.EventID = m.ID
	t.result.Amount = amount
	t.emit(event.UnclaimedWinningsCollected{EventID: m.ID, Owner: e.owner, Amount: amount})
	return nil
}

func (e *Engine) handleWithdrawPlatformFees(t *txn, _ *command.WithdrawPlatformFees) error {
	if t.call.Caller != e.owner {
		return errs.ErrNotOwner
	}
	amount := e.balances.PlatformFeeBalance()
	if amount <= 0 {
		return errs.ErrNoPlatformFees
	}

	// The balance is zeroed when the batch is applied at commit.
	e.journalGen.GeneratePlatformWithdrawal(t.batch, amount)

	if err := e.pay(t, Payment{To: e.owner, Amount: amount, Kind: PaymentPlatformFee}); err != nil {
		return err
	}

	t.result.Amount = amount
	t.emit(event.PlatformFeeWithdrawn{Owner: e.owner, Amount: amount})
	return nil
}

func (e *Engine) handleWithdrawCreatorFees(t *txn, _ *command.WithdrawCreatorFees) error {
	creator := t.call.Caller
	amount := e.balances.CreatorFeeBalance(creator)
	if amount <= 0 {
		return errs.ErrNoCreatorFees
	}

	e.journalGen.GenerateCreatorWithdrawal(t.batch, creator, amount)

	if err := e.pay(t, Payment{To: creator, Amount: amount, Kind: PaymentCreatorFee}); err != nil {
		return err
	}

	t.result.Amount = amount
	t.emit(event.CreatorFeeWithdrawn{Creator: creator, Amount: amount})
	return nil
}
