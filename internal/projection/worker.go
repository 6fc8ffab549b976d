package projection

import (
	"PredictLedger/internal/event"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/persistence"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const watermarkName = "markets"

// ProjectionOutput is what projection workers consume. The orchestrator
// bridges core.CoreOutput into this.
type ProjectionOutput struct {
	Sequence      int64
	Timestamp     time.Time
	Notifications []event.Notification
}

// FromEnvelope builds a projection output from an engine envelope.
func FromEnvelope(env *event.Envelope) ProjectionOutput {
	return ProjectionOutput{
		Sequence:      env.Sequence,
		Timestamp:     env.Timestamp,
		Notifications: env.Notifications,
	}
}

// ProjectionWorker updates the query tables from applied notifications.
// Its channel drops on overflow, so the tables are eventually consistent
// and RebuildProjections restores them from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	activity  *ActivityProjection
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	activity *ActivityProjection,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		activity:  activity,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	if pw.db != nil {
		seq, err := LoadWatermark(ctx, pw.db)
		if err != nil {
			return fmt.Errorf("load watermark: %w", err)
		}
		pw.lastSeq = seq
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if output.Sequence <= pw.lastSeq {
				continue
			}

			if pw.activity != nil {
				pw.activity.Apply(output)
			}

			if pw.db != nil {
				start := time.Now()
				if err := pw.processOutput(ctx, output); err != nil {
					// Eventually consistent; a rebuild catches up.
					pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				} else if pw.metrics != nil {
					pw.metrics.ProjectionUpdateDur.WithLabelValues(watermarkName).Observe(time.Since(start).Seconds())
				}
			}

			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the last sequence the worker consumed.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyOutput(ctx, tx, output); err != nil {
		return err
	}
	return tx.Commit()
}

// applyOutput writes every notification of one output plus the watermark.
func applyOutput(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, n := range output.Notifications {
		if err := applyNotification(ctx, tx, output.Sequence, output.Timestamp, n); err != nil {
			return fmt.Errorf("%s projection: %w", n.Kind(), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

func applyNotification(ctx context.Context, tx *sql.Tx, seq int64, ts time.Time, n event.Notification) error {
	switch e := n.(type) {
	case event.EventCreated:
		outcomes, err := json.Marshal(e.Outcomes)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.markets
				(market_id, name, outcomes, creator, oracle, deadline, status, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, 'open', $7)
			ON CONFLICT (market_id) DO NOTHING
		`, int64(e.EventID), e.Name, outcomes, e.Creator.Hex(), e.Oracle.Hex(), e.Deadline, seq)
		return err

	case event.PredictionPlaced:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.stakes (market_id, outcome, predictor, amount, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (market_id, outcome, predictor)
			DO UPDATE SET amount = projections.stakes.amount + $4, last_sequence = $5
		`, int64(e.EventID), int32(e.OutcomeIndex), e.Predictor.Hex(), e.Amount, seq); err != nil {
			return err
		}
		return updateMarket(ctx, tx, `total_staked = total_staked + $3`, e.EventID, seq, e.Amount)

	case event.EventResolved:
		return updateMarket(ctx, tx, `status = 'resolved', winning_outcome = $3, resolved_at = $4`,
			e.EventID, seq, int32(e.WinningOutcome), ts.Unix())

	case event.PlatformFeeCollected:
		return updateMarket(ctx, tx, `platform_fee = $3, creator_fee = $4`,
			e.EventID, seq, e.PlatformFee, e.CreatorFee)

	case event.EventCancelled:
		return updateMarket(ctx, tx, `status = 'cancelled'`, e.EventID, seq)

	case event.PayoutClaimed:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.claims (market_id, claimant, amount, refund, sequence, claimed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (market_id, claimant) DO NOTHING
		`, int64(e.EventID), e.Winner.Hex(), e.Amount, e.Refund, seq, ts); err != nil {
			return err
		}
		return updateMarket(ctx, tx, `paid_out = paid_out + $3`, e.EventID, seq, e.Amount)

	case event.UnclaimedWinningsCollected:
		return updateMarket(ctx, tx, `swept = $3`, e.EventID, seq, e.Amount)

	case event.PlatformFeeWithdrawn:
		return insertWithdrawal(ctx, tx, seq, "platform", e.Owner.Hex(), e.Amount, ts)

	case event.CreatorFeeWithdrawn:
		return insertWithdrawal(ctx, tx, seq, "creator", e.Creator.Hex(), e.Amount, ts)
	}

	// Registry and ownership records have no table.
	return nil
}

// updateMarket runs "UPDATE markets SET <set>" for one market. set may use
// $3 onwards; $1 is the market id and $2 the sequence.
func updateMarket(ctx context.Context, tx *sql.Tx, set string, id uint64, seq int64, args ...interface{}) error {
	query := `UPDATE projections.markets SET ` + set +
		`, last_sequence = $2, updated_at = NOW() WHERE market_id = $1`
	params := append([]interface{}{int64(id), seq}, args...)
	_, err := tx.ExecContext(ctx, query, params...)
	return err
}

func insertWithdrawal(ctx context.Context, tx *sql.Tx, seq int64, kind, recipient string, amount int64, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.fee_withdrawals (sequence, kind, recipient, amount, withdrawn_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, kind, recipient, amount, ts)
	return err
}

// LoadWatermark returns the last sequence the tables reflect, 0 if none.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = $1
	`, watermarkName).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// RebuildProjections truncates the projection tables and replays the event
// log into them, pageSize events per transaction.
func RebuildProjections(ctx context.Context, db *sql.DB, pageSize int, logger zerolog.Logger) error {
	truncateStatements := []string{
		`TRUNCATE projections.markets`,
		`TRUNCATE projections.stakes`,
		`TRUNCATE projections.claims`,
		`TRUNCATE projections.fee_withdrawals`,
		`DELETE FROM projections.watermark WHERE projection_name = 'markets'`,
	}
	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	reader := persistence.NewEventLogWriter(db)
	from := int64(1)
	total := 0
	for {
		rows, err := reader.LoadEventsFrom(ctx, from, pageSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				tx.Rollback()
				return err
			}
			if err := applyOutput(ctx, tx, FromEnvelope(env)); err != nil {
				tx.Rollback()
				return fmt.Errorf("seq %d: %w", row.Sequence, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		total += len(rows)
		from = rows[len(rows)-1].Sequence + 1
	}

	logger.Info().Int("events", total).Msg("projection rebuild complete")
	return nil
}
