package core

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	fpmath "PredictLedger/internal/math"
	gomath "math"

	"github.com/ethereum/go-ethereum/common"
)

// --- Event lifecycle handlers ---

func (e *Engine) handleCreateEvent(t *txn, c *command.CreateEvent) error {
	if err := validateEventInput(c.Outcomes, c.Duration, t.call.Timestamp); err != nil {
		return err
	}
	if c.Oracle != (common.Address{}) && !e.oracles.IsAuthorized(c.Oracle) {
		return errs.ErrUnauthorizedOracle
	}
	return e.createMarket(t, c.Name, c.Outcomes, c.Duration, c.Oracle)
}

func (e *Engine) handleCreateEventByOracle(t *txn, c *command.CreateEventByOracle) error {
	if !e.oracles.IsAuthorized(t.call.Caller) {
		return errs.ErrUnauthorizedOracle
	}
	if err := validateEventInput(c.Outcomes, c.Duration, t.call.Timestamp); err != nil {
		return err
	}
	return e.createMarket(t, c.Name, c.Outcomes, c.Duration, t.call.Caller)
}

func validateEventInput(outcomes []string, duration, now int64) error {
	if len(outcomes) < 2 {
		return errs.ErrTooFewOutcomes
	}
	if duration <= 0 || now > gomath.MaxInt64-duration {
		return errs.ErrInvalidDuration
	}
	return nil
}

func (e *Engine) createMarket(t *txn, name string, outcomes []string, duration int64, oracle common.Address) error {
	now := t.call.Timestamp
	m := e.markets.Create(name, append([]string(nil), outcomes...), t.call.Caller, oracle, now, now+duration)

	id := m.ID
	t.marketID = &id
	t.result.EventID = id
	t.emit(event.EventCreated{
		EventID:  m.ID,
		Creator:  m.Creator,
		Oracle:   m.Oracle,
		Name:     m.Name,
		Outcomes: append([]string(nil), m.Outcomes...),
		Deadline: m.Deadline,
	})

	if e.metrics != nil && !e.replaying {
		e.metrics.MarketsCreated.Inc()
	}
	return nil
}

func (e *Engine) handleMakePrediction(t *txn, c *command.MakePrediction) error {
	m, err := e.market(c.EventID)
	if err != nil {
		return err
	}
	if m.Cancelled {
		return errs.ErrEventCancelled
	}
	if m.Resolved {
		return errs.ErrAlreadyResolved
	}
	if t.call.Timestamp > m.Deadline {
		return errs.ErrPredictionClosed
	}
	if !m.ValidOutcome(c.OutcomeIndex) {
		return errs.ErrInvalidOutcome
	}
	if c.Amount <= 0 || m.TotalPool > gomath.MaxInt64-c.Amount {
		return errs.ErrInvalidAmount
	}

	e.stakes.Place(m.ID, c.OutcomeIndex, t.call.Caller, c.Amount)
	m.TotalPool += c.Amount
	e.journalGen.GenerateStake(t.batch, m.ID, c.Amount)

	t.result.EventID = m.ID
	t.result.Amount = c.Amount
	t.emit(event.PredictionPlaced{
		EventID:      m.ID,
		Predictor:    t.call.Caller,
		OutcomeIndex: c.OutcomeIndex,
		Amount:       c.Amount,
	})

	if e.metrics != nil && !e.replaying {
		e.metrics.StakeVolume.Add(float64(c.Amount))
	}
	return nil
}

func (e *Engine) handleResolveEvent(t *txn, c *command.ResolveEvent) error {
	m, err := e.market(c.EventID)
	if err != nil {
		return err
	}
	if t.call.Caller != m.Resolver() {
		if m.Oracle == (common.Address{}) {
			return errs.ErrNotCreator
		}
		return errs.ErrNotResolver
	}
	if m.Cancelled {
		return errs.ErrEventCancelled
	}
	if m.Resolved {
		return errs.ErrAlreadyResolved
	}
	if !m.ValidOutcome(c.WinningOutcome) {
		return errs.ErrInvalidWinner
	}
	if t.call.Timestamp <= m.Deadline {
		return errs.ErrDeadlineNotReached
	}

	totalBefore := m.TotalPool
	fees := fpmath.ComputeFees(totalBefore, e.stakes.Pool(m.ID, c.WinningOutcome))

	m.Resolved = true
	m.WinningOutcome = c.WinningOutcome
	m.ResolvedTimestamp = t.call.Timestamp
	m.PlatformFee = fees.PlatformFee
	m.CreatorFee = fees.CreatorFee
	m.TotalPool = fees.PoolAfterFee

	e.journalGen.GenerateResolutionFees(t.batch, m.ID, m.Creator, fees.PlatformFee, fees.CreatorFee)

	t.result.EventID = m.ID
	t.result.Amount = fees.TotalFee
	t.emit(event.EventResolved{
		EventID:        m.ID,
		WinningOutcome: c.WinningOutcome,
		Resolver:       t.call.Caller,
		TotalPool:      totalBefore,
	})
	t.emit(event.PlatformFeeCollected{
		EventID:     m.ID,
		PlatformFee: fees.PlatformFee,
		CreatorFee:  fees.CreatorFee,
	})

	if e.metrics != nil && !e.replaying {
		e.metrics.MarketsResolved.Inc()
		e.metrics.FeesCollected.WithLabelValues("platform").Add(float64(fees.PlatformFee))
		e.metrics.FeesCollected.WithLabelValues("creator").Add(float64(fees.CreatorFee))
	}
	return nil
}

func (e *Engine) handleCancelEvent(t *txn, c *command.CancelEvent) error {
	m, err := e.market(c.EventID)
	if err != nil {
		return err
	}
	if t.call.Caller != m.Creator {
		return errs.ErrNotCreator
	}
	if m.Resolved {
		return errs.ErrCannotCancel
	}
	if m.Cancelled {
		return errs.ErrAlreadyCancelled
	}

	m.Cancelled = true

	t.result.EventID = m.ID
	t.emit(event.EventCancelled{EventID: m.ID, Creator: m.Creator})

	if e.metrics != nil && !e.replaying {
		e.metrics.MarketsCancelled.Inc()
	}
	return nil
}
