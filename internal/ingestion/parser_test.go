package ingestion_test

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	"PredictLedger/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	callerHex = "0x1000000000000000000000000000000000000001"
	oracleHex = "0x2000000000000000000000000000000000000002"
)

func rawFromJSON(t *testing.T, commandType string, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   ingestion.SubjectPrefix + commandType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func meta(extra map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{
		"command_id": "cmd-1",
		"caller":     callerHex,
		"timestamp":  int64(1_700_000_000),
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

func TestCommandTypeFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
		wantErr bool
	}{
		{"predict.commands.MakePrediction", "MakePrediction", false},
		{"predict.commands.ClaimPayout.shard-3", "ClaimPayout", false},
		{"predict.commands.", "", true},
		{"predict.ledger.notifications.EventCreated", "", true},
	}
	for _, tt := range tests {
		got, err := ingestion.CommandTypeFromSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.subject, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.subject, got, tt.want)
		}
	}
}

func TestParseMakePrediction(t *testing.T) {
	raw := rawFromJSON(t, "MakePrediction", meta(map[string]interface{}{
		"event_id":      uint64(3),
		"outcome_index": uint32(0),
		"amount":        "1.25",
	}))

	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	mp, ok := cmd.(*command.MakePrediction)
	if !ok {
		t.Fatalf("expected *command.MakePrediction, got %T", cmd)
	}
	if mp.EventID != 3 || mp.OutcomeIndex != 0 {
		t.Errorf("target = (%d, %d), want (3, 0)", mp.EventID, mp.OutcomeIndex)
	}
	if mp.Amount != 1_250_000_000 {
		t.Errorf("amount = %d, want 1_250_000_000", mp.Amount)
	}
	if mp.Caller != common.HexToAddress(callerHex) || mp.Timestamp != 1_700_000_000 {
		t.Errorf("call = %+v", mp.Call)
	}
	if mp.IdempotencyKey() != "cmd-1" {
		t.Errorf("idempotency key = %s", mp.IdempotencyKey())
	}
}

func TestParseCreateEvent_OracleOptional(t *testing.T) {
	raw := rawFromJSON(t, "CreateEvent", meta(map[string]interface{}{
		"name":     "final",
		"outcomes": []string{"home", "away"},
		"duration": int64(3600),
	}))
	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ce := cmd.(*command.CreateEvent)
	if ce.Oracle != (common.Address{}) {
		t.Errorf("oracle = %s, want zero", ce.Oracle.Hex())
	}
	if len(ce.Outcomes) != 2 || ce.Duration != 3600 {
		t.Errorf("create = %+v", ce)
	}

	raw = rawFromJSON(t, "CreateEvent", meta(map[string]interface{}{
		"name":     "final",
		"outcomes": []string{"home", "away"},
		"duration": int64(3600),
		"oracle":   oracleHex,
	}))
	cmd, err = ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := cmd.(*command.CreateEvent).Oracle; got != common.HexToAddress(oracleHex) {
		t.Errorf("oracle = %s", got.Hex())
	}
}

func TestParseCommand_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name        string
		commandType string
		payload     map[string]interface{}
	}{
		{"unknown type", "OpenPosition", meta(nil)},
		{"missing command id", "ClaimPayout", map[string]interface{}{
			"caller": callerHex, "timestamp": 1, "event_id": 1,
		}},
		{"bad caller", "ClaimPayout", meta(map[string]interface{}{"caller": "alice", "event_id": 1})},
		{"missing event id", "ClaimPayout", meta(nil)},
		{"negative timestamp", "WithdrawPlatformFees", map[string]interface{}{
			"command_id": "x", "caller": callerHex, "timestamp": -1,
		}},
		{"negative amount", "MakePrediction", meta(map[string]interface{}{
			"event_id": 1, "outcome_index": 0, "amount": "-1",
		})},
		{"too precise amount", "MakePrediction", meta(map[string]interface{}{
			"event_id": 1, "outcome_index": 0, "amount": "0.0000000001",
		})},
		{"missing winner", "ResolveEvent", meta(map[string]interface{}{"event_id": 1})},
		{"oracle on oracle create", "CreateEventByOracle", meta(map[string]interface{}{
			"outcomes": []string{"a", "b"}, "duration": 10, "oracle": oracleHex,
		})},
		{"bad new owner", "TransferOwnership", meta(map[string]interface{}{"new_owner": "0x12"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawFromJSON(t, tt.commandType, tt.payload)
			if _, err := ingestion.ParseRawCommand(raw); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseCommand_ZeroIdsAreValid(t *testing.T) {
	raw := rawFromJSON(t, "ResolveEvent", meta(map[string]interface{}{
		"event_id":        0,
		"winning_outcome": 0,
	}))
	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if re := cmd.(*command.ResolveEvent); re.EventID != 0 || re.WinningOutcome != 0 {
		t.Errorf("resolve = %+v", re)
	}
}

// ============================================================================
// Test: Dispatcher
// ============================================================================

type fakeSubmitter struct {
	res core.Result
	err error
	got []command.Command
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd command.Command) (core.Result, error) {
	f.got = append(f.got, cmd)
	return f.res, f.err
}

type settled struct{ acks, naks int }

func (s *settled) attach(raw ingestion.RawCommand) ingestion.RawCommand {
	raw.AckFunc = func() { s.acks++ }
	raw.NakFunc = func() { s.naks++ }
	return raw
}

func TestDispatcher_SettlesByOutcome(t *testing.T) {
	claim := meta(map[string]interface{}{"event_id": 1})

	tests := []struct {
		name      string
		res       core.Result
		err       error
		subject   string
		want      string
		wantAck   int
		wantNak   int
		submitted int
	}{
		{"applied", core.Result{Sequence: 1}, nil, "ClaimPayout", "applied", 1, 0, 1},
		{"duplicate", core.Result{Duplicate: true}, nil, "ClaimPayout", "duplicate", 1, 0, 1},
		{"rejected", core.Result{}, errs.ErrAlreadyClaimed, "ClaimPayout", "rejected", 1, 0, 1},
		{"payment failure", core.Result{}, errs.ErrPaymentFailed.Wrap(errors.New("rpc down")), "ClaimPayout", "retry", 0, 1, 1},
		{"malformed", core.Result{}, nil, "Nope", "malformed", 1, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{res: tt.res, err: tt.err}
			d := ingestion.NewDispatcher(sub, nil, testutil.DiscardLogger())
			var s settled

			got := d.Handle(context.Background(), s.attach(rawFromJSON(t, tt.subject, claim)))
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
			if s.acks != tt.wantAck || s.naks != tt.wantNak {
				t.Errorf("acks/naks = %d/%d, want %d/%d", s.acks, s.naks, tt.wantAck, tt.wantNak)
			}
			if len(sub.got) != tt.submitted {
				t.Errorf("submitted %d commands, want %d", len(sub.got), tt.submitted)
			}
		})
	}
}

func TestDispatcher_GivesUpOnFinalDelivery(t *testing.T) {
	sub := &fakeSubmitter{err: errs.ErrPaymentFailed.Wrap(errors.New("rpc down"))}
	d := ingestion.NewDispatcher(sub, nil, testutil.DiscardLogger())
	var s settled

	raw := s.attach(rawFromJSON(t, "ClaimPayout", meta(map[string]interface{}{"event_id": 1})))
	raw.Delivery = ingestion.MaxDeliveries
	if got := d.Handle(context.Background(), raw); got != "exhausted" {
		t.Errorf("outcome = %s, want exhausted", got)
	}
	if s.acks != 1 || s.naks != 0 {
		t.Errorf("acks/naks = %d/%d, want 1/0", s.acks, s.naks)
	}
}

// ============================================================================
// Test: outbound messages
// ============================================================================

func TestBuildOutbound_OneMessagePerNotification(t *testing.T) {
	id := uint64(5)
	env := &event.Envelope{
		Sequence:       12,
		IdempotencyKey: "cmd-12",
		CommandType:    "ResolveEvent",
		MarketID:       &id,
		Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
		Notifications: []event.Notification{
			event.EventResolved{EventID: 5, WinningOutcome: 1, TotalPool: 1000},
			event.PlatformFeeCollected{EventID: 5, PlatformFee: 0, CreatorFee: 1},
		},
	}

	msgs, err := ingestion.BuildOutbound(env)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[1].Index != 1 || msgs[1].Kind != "PlatformFeeCollected" {
		t.Errorf("second = %+v", msgs[1])
	}
	if got := ingestion.OutboundSubject(msgs[0]); got != "predict.ledger.notifications.EventResolved.5" {
		t.Errorf("subject = %s", got)
	}

	env.MarketID = nil
	env.Notifications = []event.Notification{event.OwnershipTransferred{}}
	msgs, _ = ingestion.BuildOutbound(env)
	if got := ingestion.OutboundSubject(msgs[0]); got != "predict.ledger.notifications.OwnershipTransferred" {
		t.Errorf("subject = %s", got)
	}
}

func TestBuildPaymentInstruction(t *testing.T) {
	id := uint64(3)
	p := core.Payment{
		To:        common.HexToAddress(callerHex),
		Amount:    1_500_000_000,
		Kind:      core.PaymentPayout,
		EventID:   &id,
		Reference: "cmd-9",
	}

	subject, data, msgID, err := ingestion.BuildPaymentInstruction(p)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if subject != "predict.ledger.payments.payout" {
		t.Errorf("subject = %s", subject)
	}
	if msgID != "cmd-9:payout" {
		t.Errorf("msg id = %s", msgID)
	}

	var instr ingestion.PaymentInstruction
	if err := json.Unmarshal(data, &instr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if instr.Display != "1.5" || instr.EventID == nil || *instr.EventID != 3 {
		t.Errorf("instruction = %+v", instr)
	}
	if common.HexToAddress(instr.To) != p.To {
		t.Errorf("to = %s", instr.To)
	}
}
