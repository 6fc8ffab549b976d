package persistence

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// PaymentRow represents a row in event_log.payment_outbox. It is written in
// the same transaction as the event that owes it.
type PaymentRow struct {
	ID        int64
	Sequence  int64
	Reference string
	Kind      string
	Recipient string
	Amount    int64
	EventID   *int64
	Attempts  int
}

// NewPaymentRows flattens the deferred payments of the command at sequence.
func NewPaymentRows(sequence int64, payments []core.Payment) []PaymentRow {
	if len(payments) == 0 {
		return nil
	}
	rows := make([]PaymentRow, 0, len(payments))
	for _, p := range payments {
		row := PaymentRow{
			Sequence:  sequence,
			Reference: p.Reference,
			Kind:      string(p.Kind),
			Recipient: p.To.Hex(),
			Amount:    p.Amount,
		}
		if p.EventID != nil {
			id := int64(*p.EventID)
			row.EventID = &id
		}
		rows = append(rows, row)
	}
	return rows
}

// Payment rebuilds the engine payment a row was written from.
func (r PaymentRow) Payment() core.Payment {
	p := core.Payment{
		To:        common.HexToAddress(r.Recipient),
		Amount:    r.Amount,
		Kind:      core.PaymentKind(r.Kind),
		Reference: r.Reference,
	}
	if r.EventID != nil {
		id := uint64(*r.EventID)
		p.EventID = &id
	}
	return p
}

// WritePaymentBatch writes outbox rows. A re-flushed batch is a no-op.
func (w *EventLogWriter) WritePaymentBatch(ctx context.Context, ex execer, payments []PaymentRow) error {
	if len(payments) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.payment_outbox
		(sequence, reference, kind, recipient, amount, event_id)
		VALUES `

	values := make([]string, 0, len(payments))
	args := make([]interface{}, 0, len(payments)*6)

	for i, p := range payments {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, p.Sequence, p.Reference, p.Kind, p.Recipient, p.Amount, p.EventID)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, kind) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// PaymentOutbox is the durable queue the relay drains.
type PaymentOutbox interface {
	// Pending returns up to limit unsent payments, oldest first.
	Pending(ctx context.Context, limit int) ([]PaymentRow, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause string) error
}

// PostgresPaymentOutbox reads and settles event_log.payment_outbox.
type PostgresPaymentOutbox struct {
	db *sql.DB
}

func NewPostgresPaymentOutbox(db *sql.DB) *PostgresPaymentOutbox {
	return &PostgresPaymentOutbox{db: db}
}

func (o *PostgresPaymentOutbox) Pending(ctx context.Context, limit int) ([]PaymentRow, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, sequence, reference, kind, recipient, amount, event_id, attempts
		FROM event_log.payment_outbox
		WHERE sent_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaymentRow
	for rows.Next() {
		var r PaymentRow
		var eventID sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Sequence, &r.Reference, &r.Kind, &r.Recipient, &r.Amount, &eventID, &r.Attempts); err != nil {
			return nil, err
		}
		if eventID.Valid {
			id := eventID.Int64
			r.EventID = &id
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (o *PostgresPaymentOutbox) MarkSent(ctx context.Context, id int64) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE event_log.payment_outbox SET sent_at = NOW() WHERE id = $1`, id)
	return err
}

func (o *PostgresPaymentOutbox) MarkFailed(ctx context.Context, id int64, cause string) error {
	_, err := o.db.ExecContext(ctx,
		`UPDATE event_log.payment_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, cause)
	return err
}

// PaymentRelay hands committed payments to the payer. Each payment keeps the
// reference of the command that owes it, so a payment sent but not yet
// marked is resent under the same message id and dropped downstream as a
// duplicate.
type PaymentRelay struct {
	outbox    PaymentOutbox
	payer     core.Payer
	interval  time.Duration
	batchSize int
	wake      chan struct{}
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewPaymentRelay(
	outbox PaymentOutbox,
	payer core.Payer,
	interval time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PaymentRelay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PaymentRelay{
		outbox:    outbox,
		payer:     payer,
		interval:  interval,
		batchSize: 100,
		wake:      make(chan struct{}, 1),
		metrics:   metrics,
		logger:    logger,
	}
}

// Notify wakes the relay without blocking. The persistence worker calls it
// after committing a batch that owes payments.
func (r *PaymentRelay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run drains the outbox at start, on every Notify and on every tick, so
// payments left over from a crash go out first.
func (r *PaymentRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("payment relay pass stopped")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		case <-ticker.C:
		}
	}
}

// Drain sends pending payments in outbox order and reports how many went
// out. It stops at the first failure so no payment overtakes an older one.
func (r *PaymentRelay) Drain(ctx context.Context) (int, error) {
	sent := 0
	for {
		rows, err := r.outbox.Pending(ctx, r.batchSize)
		if err != nil {
			return sent, fmt.Errorf("load pending payments: %w", err)
		}

		for _, row := range rows {
			if err := r.payer.Pay(ctx, row.Payment()); err != nil {
				if r.metrics != nil {
					r.metrics.PaymentFailures.WithLabelValues(row.Kind).Inc()
				}
				if merr := r.outbox.MarkFailed(ctx, row.ID, err.Error()); merr != nil {
					r.logger.Error().Err(merr).Int64("outbox_id", row.ID).Msg("record payment failure")
				}
				return sent, fmt.Errorf("pay seq %d %s: %w", row.Sequence, row.Kind, err)
			}
			if err := r.outbox.MarkSent(ctx, row.ID); err != nil {
				return sent, fmt.Errorf("mark payment %d sent: %w", row.ID, err)
			}
			sent++
			if r.metrics != nil {
				r.metrics.FundsPaidOut.WithLabelValues(row.Kind).Add(float64(row.Amount))
			}
			r.logger.Debug().
				Int64("sequence", row.Sequence).
				Str("kind", row.Kind).
				Str("to", row.Recipient).
				Int64("amount", row.Amount).
				Int("attempts", row.Attempts+1).
				Msg("payment sent")
		}

		if len(rows) < r.batchSize {
			return sent, nil
		}
	}
}
