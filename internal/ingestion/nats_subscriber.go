package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream       = "PREDICT_COMMANDS"
	NotificationsStream = "PREDICT_LEDGER_NOTIFICATIONS"
	CommandConsumer     = "ledger-commands"

	// MaxDeliveries bounds redelivery of a command that keeps failing
	// inside the ledger (a payment that cannot be made).
	MaxDeliveries = 5
)

// RawCommand is an undecoded inbound message.
type RawCommand struct {
	Subject   string
	Data      []byte
	Delivery  uint64 // 1 on first delivery
	StreamSeq uint64
	Timestamp time.Time
	AckFunc   func() // settle: processed or permanently rejected
	NakFunc   func() // redeliver later
}

// NATSSubscriber consumes predict.commands.> through one durable consumer
// with a single message in flight, so commands reach the engine in stream
// order.
type NATSSubscriber struct {
	js      jetstream.JetStream
	cmdChan chan<- RawCommand
	consume jetstream.ConsumeContext
	logger  zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, cmdChan chan<- RawCommand, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, cmdChan: cmdChan, logger: logger}
}

// Subscribe creates (or updates) the command consumer and starts delivery.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       CommandConsumer,
		FilterSubject: SubjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    MaxDeliveries,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", CommandConsumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Delivery:  1,
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
		}
		if md, err := msg.Metadata(); err == nil {
			raw.Delivery = md.NumDelivered
			raw.StreamSeq = md.Sequence.Stream
			raw.Timestamp = md.Timestamp
		}
		delay := redeliveryDelay(raw.Delivery)
		raw.NakFunc = func() { msg.NakWithDelay(delay) }

		select {
		case ns.cmdChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", CommandConsumer, err)
	}
	ns.consume = cc
	ns.logger.Info().Str("stream", CommandStream).Str("consumer", CommandConsumer).Msg("subscribed")
	return nil
}

// redeliveryDelay backs off 1s, 2s, 4s... capped at 30s.
func redeliveryDelay(delivery uint64) time.Duration {
	switch {
	case delivery < 1:
		delivery = 1
	case delivery > 6:
		delivery = 6
	}
	d := time.Second << (delivery - 1)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// EnsureStreams creates the inbound command stream if it does not exist.
// FileStorage, limits retention, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	cfg := jetstream.StreamConfig{
		Name:       CommandStream,
		Subjects:   []string{SubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	return nil
}

// Stop ends delivery; an unsettled in-flight message is redelivered after
// its ack wait.
func (ns *NATSSubscriber) Stop() {
	if ns.consume != nil {
		ns.consume.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("predictledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
