package ingestion

import (
	"PredictLedger/internal/core"
	fpmath "PredictLedger/internal/math"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// PaymentSubjectPrefix prefixes payment instructions:
	// predict.ledger.payments.<kind>
	PaymentSubjectPrefix = "predict.ledger.payments."
	PaymentsStream       = "PREDICT_LEDGER_PAYMENTS"
)

// PaymentInstruction is the JSON body of one payment message. A wallet
// service consumes these and moves the funds.
type PaymentInstruction struct {
	To        string  `json:"to"`
	Amount    int64   `json:"amount"`
	Display   string  `json:"display"`
	Kind      string  `json:"kind"`
	EventID   *uint64 `json:"event_id,omitempty"`
	Reference string  `json:"reference"`
}

// JetStreamPayer pays by publishing an instruction and waiting for the
// stream to store it. The message id is the command reference plus kind, so
// a resent instruction is dropped by the stream. Behind the payment relay a
// failed publish leaves the payment in the outbox; called inline by the
// engine it rolls back the command that caused it.
type JetStreamPayer struct {
	js      jetstream.JetStream
	timeout time.Duration
}

func NewJetStreamPayer(js jetstream.JetStream, timeout time.Duration) *JetStreamPayer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &JetStreamPayer{js: js, timeout: timeout}
}

// BuildPaymentInstruction returns the subject, body and dedup id for p.
func BuildPaymentInstruction(p core.Payment) (string, []byte, string, error) {
	instr := PaymentInstruction{
		To:        p.To.Hex(),
		Amount:    p.Amount,
		Display:   fpmath.FormatAmount(p.Amount),
		Kind:      string(p.Kind),
		EventID:   p.EventID,
		Reference: p.Reference,
	}
	data, err := json.Marshal(instr)
	if err != nil {
		return "", nil, "", fmt.Errorf("marshal payment: %w", err)
	}
	return PaymentSubjectPrefix + string(p.Kind), data, p.Reference + ":" + string(p.Kind), nil
}

func (jp *JetStreamPayer) Pay(ctx context.Context, p core.Payment) error {
	subject, data, msgID, err := BuildPaymentInstruction(p)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, jp.timeout)
	defer cancel()
	if _, err := jp.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// EnsurePaymentStream creates the payment instruction stream. Work-queue
// retention: each instruction is removed once the wallet service acks it.
func EnsurePaymentStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       PaymentsStream,
		Subjects:   []string{PaymentSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: 24 * time.Hour,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create payment stream: %w", err)
	}
	return nil
}

var _ core.Payer = (*JetStreamPayer)(nil)
