package ingestion

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/observability"
	"context"

	"github.com/rs/zerolog"
)

// Submitter is the part of core.Processor the dispatcher needs.
type Submitter interface {
	Submit(ctx context.Context, cmd command.Command) (core.Result, error)
}

// Dispatcher decodes inbound messages and submits them one at a time.
// A message is acked once its outcome is final: applied, duplicate,
// malformed or rejected by a business rule. Internal failures (a payment
// that could not be made) are nakked for redelivery until MaxDeliveries.
type Dispatcher struct {
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{submitter: submitter, metrics: metrics, logger: logger}
}

// Run drains in until ctx is cancelled or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and settles it. It returns the outcome label.
func (d *Dispatcher) Handle(ctx context.Context, raw RawCommand) string {
	result := d.handle(ctx, raw)
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues("nats", result).Inc()
	}
	return result
}

func (d *Dispatcher) handle(ctx context.Context, raw RawCommand) string {
	cmd, err := ParseRawCommand(raw)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		settle(raw.AckFunc)
		return "malformed"
	}

	res, err := d.submitter.Submit(ctx, cmd)
	switch {
	case err == nil && res.Duplicate:
		settle(raw.AckFunc)
		return "duplicate"
	case err == nil:
		settle(raw.AckFunc)
		return "applied"
	case errs.KindOf(err) == errs.KindInternal:
		if raw.Delivery >= MaxDeliveries {
			d.logger.Error().Err(err).
				Str("subject", raw.Subject).
				Uint64("stream_seq", raw.StreamSeq).
				Uint64("delivery", raw.Delivery).
				Msg("command failed on final delivery, giving up")
			settle(raw.AckFunc)
			return "exhausted"
		}
		settle(raw.NakFunc)
		return "retry"
	default:
		settle(raw.AckFunc)
		return "rejected"
	}
}

func settle(f func()) {
	if f != nil {
		f()
	}
}
