package ingestion

import (
	"PredictLedger/internal/event"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NotificationSubjectPrefix prefixes outbound subjects:
// predict.ledger.notifications.<Kind>[.<event id>]
const NotificationSubjectPrefix = "predict.ledger.notifications."

// PublishableEnvelope is an applied envelope queued for outbound publishing.
type PublishableEnvelope struct {
	Envelope *event.Envelope
}

// OutboundNotification is the JSON body of one published message.
type OutboundNotification struct {
	Sequence       int64           `json:"sequence"`
	Index          int             `json:"index"`
	CommandType    string          `json:"command_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	EventID        *uint64         `json:"event_id,omitempty"`
	Kind           string          `json:"kind"`
	Data           json.RawMessage `json:"data"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// OutboundPublisher publishes each notification of an applied command to
// NATS. Publishing is best effort; consumers can fall back to the event log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEnvelope
	logger    zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEnvelope, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case pe, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, pe.Envelope); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", pe.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.Envelope) error {
	msgs, err := BuildOutbound(env)
	if err != nil {
		return err
	}
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal notification: %w", err)
		}
		msgID := fmt.Sprintf("%d-%d", env.Sequence, i)
		if _, err := op.js.Publish(ctx, OutboundSubject(m), data, jetstream.WithMsgID(msgID)); err != nil {
			return fmt.Errorf("publish %s: %w", m.Kind, err)
		}
	}
	return nil
}

// BuildOutbound splits an envelope into one message per notification.
func BuildOutbound(env *event.Envelope) ([]OutboundNotification, error) {
	out := make([]OutboundNotification, 0, len(env.Notifications))
	for i, n := range env.Notifications {
		data, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", n.Kind(), err)
		}
		out = append(out, OutboundNotification{
			Sequence:       env.Sequence,
			Index:          i,
			CommandType:    env.CommandType,
			IdempotencyKey: env.IdempotencyKey,
			EventID:        env.MarketID,
			Kind:           n.Kind().String(),
			Data:           data,
			StateHash:      hex.EncodeToString(env.StateHash[:]),
			Timestamp:      env.Timestamp,
		})
	}
	return out, nil
}

// OutboundSubject is the subject a notification is published on.
func OutboundSubject(m OutboundNotification) string {
	subject := NotificationSubjectPrefix + m.Kind
	if m.EventID != nil {
		subject = fmt.Sprintf("%s.%d", subject, *m.EventID)
	}
	return subject
}

// EnsureOutboundStream creates the outbound notifications stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       NotificationsStream,
		Subjects:   []string{NotificationSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", NotificationsStream).Msg("ensured outbound stream")
	return nil
}
