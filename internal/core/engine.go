package core

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/state"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TenYears is the dormancy after resolution before the owner may sweep.
const TenYears int64 = 10 * 365 * 24 * 60 * 60

// globalCheckInterval is how often (in sequences) the zero-sum check runs.
const globalCheckInterval = 1000

// Engine is the settlement state machine. Mutations hold the write lock for
// their whole duration, payment included; reads share the read lock.
type Engine struct {
	mu sync.RWMutex

	owner      common.Address
	sequence   int64
	clock      int64 // timestamp of the latest applied command
	hasher     *hashChain
	balances   *ledger.BalanceTracker
	journalGen *ledger.JournalGenerator
	validator  *ledger.InvariantValidator

	markets *state.MarketRegistry
	stakes  *state.StakeBook
	claims  *state.ClaimBook
	oracles *state.OracleRegistry

	replayCursor  logCursor
	payer         Payer
	deferPayments bool
	metrics       *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	replaying bool
}

// CoreOutput is everything downstream workers need for one applied command.
type CoreOutput struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch

	// Payments are the transfers the command owes when the engine runs with
	// PaymentOutbox. They must be made only after Envelope is durable.
	Payments []Payment
}

// Config wires an Engine. Owner is required; everything else is optional.
type Config struct {
	Owner         common.Address
	StartSequence int64
	Payer         Payer

	// PaymentOutbox moves payments out of the mutation: Payer is not called
	// and each payment rides on the CoreOutput instead, to be paid once the
	// event log has committed the command. Requires PersistChan.
	PaymentOutbox bool

	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	Metrics        *observability.Metrics
}

// Result describes a successfully applied command.
type Result struct {
	Sequence      int64
	EventID       uint64
	Amount        int64
	StateHash     [32]byte
	Notifications []event.Notification

	// Duplicate is set by the Processor when the command was already applied.
	Duplicate bool
}

func NewEngine(cfg Config) *Engine {
	balances := ledger.NewBalanceTracker()
	payer := cfg.Payer
	if payer == nil {
		payer = NopPayer{}
	}
	seq := cfg.StartSequence
	if seq <= 0 {
		seq = 1
	}
	return &Engine{
		owner:          cfg.Owner,
		sequence:       seq,
		hasher:         newHashChain(),
		balances:       balances,
		journalGen:     ledger.NewJournalGenerator(),
		validator:      ledger.NewInvariantValidator(balances),
		markets:        state.NewMarketRegistry(),
		stakes:         state.NewStakeBook(),
		claims:         state.NewClaimBook(),
		oracles:        state.NewOracleRegistry(),
		replayCursor:   logCursor{next: seq},
		payer:          payer,
		deferPayments:  cfg.PaymentOutbox,
		metrics:        cfg.Metrics,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}
}

// txn collects the effects of one command until commit or rollback.
type txn struct {
	ctx           context.Context
	cmd           command.Command
	call          command.Call
	batch         *ledger.Batch
	notifications []event.Notification
	undo          []func()
	payments      []Payment
	result        Result
	marketID      *uint64
}

func (t *txn) emit(n event.Notification) {
	t.notifications = append(t.notifications, n)
}

func (t *txn) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

// Execute applies one command atomically. A failed command leaves no trace:
// no sequence is consumed, no journal applied, no notification emitted.
func (e *Engine) Execute(ctx context.Context, cmd command.Command) (Result, error) {
	if cmd == nil || cmd.IdempotencyKey() == "" {
		return Result{}, errs.ErrMalformed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.apply(ctx, cmd)
}

func (e *Engine) apply(ctx context.Context, cmd command.Command) (Result, error) {
	start := time.Now()
	commandType := cmd.CommandType().String()

	// The ledger clock never runs backwards: a command stamped earlier than
	// one already applied is evaluated at the later time.
	call := cmd.Context()
	if call.Timestamp < e.clock {
		call.Timestamp = e.clock
	}

	t := &txn{
		ctx:      ctx,
		cmd:      cmd,
		call:     call,
		batch:    ledger.NewBatch(cmd.IdempotencyKey(), e.sequence, call.Timestamp),
		marketID: cmd.MarketID(),
	}

	if err := e.dispatch(t); err != nil {
		t.rollback()
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(commandType, string(errs.CodeOf(err))).Inc()
		}
		return Result{}, err
	}

	e.commit(t)
	e.clock = call.Timestamp

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}

	return t.result, nil
}

// Replay re-applies a command read back from the event log. Payments are
// not repeated and nothing is sent downstream. The resulting hash must match
// the logged one.
func (e *Engine) Replay(ctx context.Context, env *event.Envelope) error {
	cmd, err := command.Decode(env.CommandType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.replayCursor.Check(env.Sequence, env.PrevHash, e.hasher.Tip()); err != nil {
		if e.metrics != nil {
			e.metrics.LogSequenceGap.Inc()
		}
		return err
	}
	if e.sequence != env.Sequence {
		return fmt.Errorf("replay seq %d: engine is at %d", env.Sequence, e.sequence)
	}

	e.replaying = true
	res, err := e.apply(ctx, cmd)
	e.replaying = false

	if err != nil {
		return fmt.Errorf("replay seq %d (%s) rejected: %w", env.Sequence, env.CommandType, err)
	}
	if res.StateHash != env.StateHash {
		return fmt.Errorf("replay seq %d: state hash mismatch: got %x, logged %x",
			env.Sequence, res.StateHash, env.StateHash)
	}
	e.replayCursor.Advance()
	if e.metrics != nil {
		e.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

func (e *Engine) dispatch(t *txn) error {
	switch c := t.cmd.(type) {
	case *command.CreateEvent:
		return e.handleCreateEvent(t, c)
	case *command.CreateEventByOracle:
		return e.handleCreateEventByOracle(t, c)
	case *command.MakePrediction:
		return e.handleMakePrediction(t, c)
	case *command.ResolveEvent:
		return e.handleResolveEvent(t, c)
	case *command.CancelEvent:
		return e.handleCancelEvent(t, c)
	case *command.ClaimPayout:
		return e.handleClaimPayout(t, c)
	case *command.CollectUnclaimed:
		return e.handleCollectUnclaimed(t, c)
	case *command.WithdrawPlatformFees:
		return e.handleWithdrawPlatformFees(t, c)
	case *command.WithdrawCreatorFees:
		return e.handleWithdrawCreatorFees(t, c)
	case *command.RegisterOracle:
		return e.handleRegisterOracle(t, c)
	case *command.DeregisterOracle:
		return e.handleDeregisterOracle(t, c)
	case *command.TransferOwnership:
		return e.handleTransferOwnership(t, c)
	default:
		return errs.ErrUnknownCommand
	}
}

// pay runs the outbound transfer as the final step of a handler. With an
// outbox the payment is only recorded on the txn and cannot fail here.
func (e *Engine) pay(t *txn, p Payment) error {
	if e.replaying || p.Amount == 0 {
		return nil
	}
	p.Reference = t.cmd.IdempotencyKey()
	if e.deferPayments {
		t.payments = append(t.payments, p)
		return nil
	}
	if err := e.payer.Pay(t.ctx, p); err != nil {
		if e.metrics != nil {
			e.metrics.PaymentFailures.WithLabelValues(string(p.Kind)).Inc()
		}
		return errs.ErrPaymentFailed.Wrap(err)
	}
	if e.metrics != nil {
		e.metrics.FundsPaidOut.WithLabelValues(string(p.Kind)).Add(float64(p.Amount))
	}
	return nil
}

func (e *Engine) market(id uint64) (*state.Market, error) {
	m, ok := e.markets.Get(id)
	if !ok {
		return nil, errs.ErrEventNotFound
	}
	return m, nil
}

// Sequence returns the next sequence to assign.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// Clock returns the timestamp of the latest applied command.
func (e *Engine) Clock() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.clock
}

// StateHash returns the current chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.Tip()
}
