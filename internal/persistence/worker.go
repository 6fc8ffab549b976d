package persistence

import (
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"PredictLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// CoreOutput is the storage form of one applied command. The orchestrator
// (cmd/predictledger) bridges core.CoreOutput into this.
type CoreOutput struct {
	EventRow    EventRow
	JournalRows []JournalRow
	PaymentRows []PaymentRow
}

// NewCoreOutput converts an engine envelope and its journal batch.
func NewCoreOutput(env *event.Envelope, batch *ledger.Batch) (CoreOutput, error) {
	row, err := NewEventRow(env)
	if err != nil {
		return CoreOutput{}, err
	}
	return CoreOutput{EventRow: row, JournalRows: NewJournalRows(batch)}, nil
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends on that channel with a blocking send, so a slow worker
// stalls the engine rather than losing an event.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
	onPayments   func()

	flushed atomic.Int64
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// SetPaymentHook registers fn to run after each commit that wrote outbox
// rows. Call it before Run.
func (pw *PersistenceWorker) SetPaymentHook(fn func()) {
	pw.onPayments = fn
}

// pending is the batch being accumulated between flushes.
type pending struct {
	events   []EventRow
	journals []JournalRow
	payments []PaymentRow
}

func (p *pending) add(out CoreOutput) {
	p.events = append(p.events, out.EventRow)
	p.journals = append(p.journals, out.JournalRows...)
	p.payments = append(p.payments, out.PaymentRows...)
}

func (p *pending) reset() {
	p.events = p.events[:0]
	p.journals = p.journals[:0]
	p.payments = p.payments[:0]
}

// Run flushes when the batch is full or the flush timeout expires. It
// returns once ctx is cancelled or the channel is closed, after writing
// whatever was still pending.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pending{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*3),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.drain(batch)
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				pw.drain(batch)
				return nil
			}
			batch.add(output)
			if len(batch.events) < pw.batchSize {
				continue
			}
			if err := pw.flushWithRetry(ctx, batch); err != nil {
				pw.logger.Error().Err(err).Msg("batch flush failed after retries")
			}
			batch.reset()
			timer.Reset(pw.flushTimeout)

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// drain writes the last batch on shutdown with a fresh context.
func (pw *PersistenceWorker) drain(batch *pending) {
	if len(batch.events) == 0 {
		return
	}
	if err := pw.flush(context.Background(), batch); err != nil {
		pw.logger.Error().Err(err).
			Int64("from_sequence", batch.events[0].Sequence).
			Int("events", len(batch.events)).
			Msg("final flush failed; replay will stop short of these sequences")
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// If ctx is cancelled meanwhile, one last flush is attempted.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pending) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int64("from_sequence", batch.events[0].Sequence).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				return pw.flush(context.Background(), batch)
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

// flush commits events, their journals and the payments they owe in one
// transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, batch *pending) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.recordError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.recordError("write_journals")
		return err
	}
	if err := pw.writer.WritePaymentBatch(ctx, tx, batch.payments); err != nil {
		pw.recordError("write_payments")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return fmt.Errorf("commit: %w", err)
	}

	last := batch.events[len(batch.events)-1].Sequence
	pw.flushed.Store(last)
	if len(batch.payments) > 0 && pw.onPayments != nil {
		pw.onPayments()
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}

	pw.logger.Debug().
		Int("events", len(batch.events)).
		Int("journals", len(batch.journals)).
		Int("payments", len(batch.payments)).
		Int64("last_sequence", last).
		Dur("took", time.Since(start)).
		Msg("flushed")
	return nil
}

func (pw *PersistenceWorker) recordError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}

// Flushed is the highest sequence this worker has committed, 0 before the
// first flush.
func (pw *PersistenceWorker) Flushed() int64 {
	return pw.flushed.Load()
}
