package core_test

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// --- Test helpers ---

const (
	coin = int64(1_000_000_000)
	t0   = int64(1_700_000_000)
	hour = int64(3600)
)

var (
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	oracleA = common.HexToAddress("0x00000000000000000000000000000000000000d4")
)

var ctx = context.Background()

func at(who common.Address, ts int64) command.Call {
	return command.Call{Caller: who, Timestamp: ts}
}

type recordingPayer struct {
	mu       sync.Mutex
	payments []core.Payment
	fail     bool
}

func (p *recordingPayer) Pay(_ context.Context, pm core.Payment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("recipient rejected transfer")
	}
	p.payments = append(p.payments, pm)
	return nil
}

func (p *recordingPayer) total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var sum int64
	for _, pm := range p.payments {
		sum += pm.Amount
	}
	return sum
}

func newTestEngine() (*core.Engine, *recordingPayer, chan core.CoreOutput) {
	payer := &recordingPayer{}
	persist := make(chan core.CoreOutput, 1024)
	e := core.NewEngine(core.Config{Owner: owner, Payer: payer, PersistChan: persist})
	return e, payer, persist
}

// newOutboxEngine defers payments to the CoreOutput instead of paying inline.
func newOutboxEngine() (*core.Engine, *recordingPayer, chan core.CoreOutput) {
	payer := &recordingPayer{}
	persist := make(chan core.CoreOutput, 1024)
	e := core.NewEngine(core.Config{Owner: owner, Payer: payer, PaymentOutbox: true, PersistChan: persist})
	return e, payer, persist
}

// rebuild replays logged outputs into a fresh outbox engine.
func rebuild(t *testing.T, outs []core.CoreOutput) (*core.Engine, chan core.CoreOutput) {
	t.Helper()
	e, _, persist := newOutboxEngine()
	for _, out := range outs {
		if err := e.Replay(ctx, out.Envelope); err != nil {
			t.Fatalf("replay seq %d: %v", out.Envelope.Sequence, err)
		}
	}
	return e, persist
}

func escrowOf(e *core.Engine, id uint64) int64 {
	balances, _ := e.LedgerBalances()
	for _, ab := range balances {
		if ab.Account == ledger.NewEscrowAccount(id) {
			return ab.Balance
		}
	}
	return 0
}

// newMarket creates a self-resolving three-outcome market by alice at t0.
func newMarket(t *testing.T, e *core.Engine) uint64 {
	t.Helper()
	id, err := e.CreateEvent(ctx, at(alice, t0), "Who wins?", []string{"A", "B", "C"}, hour, common.Address{})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return id
}

func mustPredict(t *testing.T, e *core.Engine, who common.Address, id uint64, outcome uint32, amount int64) {
	t.Helper()
	if err := e.MakePrediction(ctx, at(who, t0+10), id, outcome, amount); err != nil {
		t.Fatalf("predict %s on %d: %v", who.Hex(), outcome, err)
	}
}

func mustResolve(t *testing.T, e *core.Engine, id uint64, winner uint32) {
	t.Helper()
	if err := e.ResolveEvent(ctx, at(alice, t0+hour+1), id, winner); err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// ============================================================================
// Test: Settlement Scenarios
// ============================================================================

func TestScenario_SoleWinnerTakesPoolAfterFee(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)

	mustPredict(t, e, alice, id, 0, 1*coin)
	mustPredict(t, e, bob, id, 1, 2*coin)
	mustResolve(t, e, id, 0)

	details, err := e.GetEventDetails(id)
	if err != nil {
		t.Fatal(err)
	}
	if details.PlatformFee != 1_000_000 || details.CreatorFee != 1_000_000 {
		t.Errorf("fees: platform=%d creator=%d, want 1_000_000 each", details.PlatformFee, details.CreatorFee)
	}
	if details.TotalPool != 2_998_000_000 {
		t.Errorf("pool after fee: got %d, want 2_998_000_000", details.TotalPool)
	}
	if got := e.CalculatePotentialPayout(id, 0, alice); got != 2_998_000_000 {
		t.Errorf("potential payout: got %d", got)
	}
	if got := e.CalculatePotentialPayout(id, 1, bob); got != 0 {
		t.Errorf("losing outcome should pay 0, got %d", got)
	}

	paid, err := e.ClaimPayout(ctx, at(alice, t0+hour+2), id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if paid != 2_998_000_000 {
		t.Errorf("payout: got %d", paid)
	}
	if len(payer.payments) != 1 || payer.payments[0].To != alice || payer.payments[0].Kind != core.PaymentPayout {
		t.Errorf("unexpected payments: %+v", payer.payments)
	}

	_, err = e.ClaimPayout(ctx, at(bob, t0+hour+2), id)
	expectErr(t, err, errs.ErrNoWinningPrediction)
}

func TestScenario_TwoWinnersProportional(t *testing.T) {
	e, _, _ := newTestEngine()
	id := newMarket(t, e)

	mustPredict(t, e, alice, id, 0, 1*coin)
	mustPredict(t, e, bob, id, 0, 2*coin)
	mustPredict(t, e, carol, id, 1, 6*coin)
	mustResolve(t, e, id, 0)

	details, _ := e.GetEventDetails(id)
	if details.PlatformFee != 3_000_000 || details.CreatorFee != 3_000_000 {
		t.Errorf("fees: platform=%d creator=%d", details.PlatformFee, details.CreatorFee)
	}
	if details.TotalPool != 8_994_000_000 {
		t.Errorf("pool after fee: got %d", details.TotalPool)
	}

	a, err := e.ClaimPayout(ctx, at(alice, t0+hour+5), id)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.ClaimPayout(ctx, at(bob, t0+hour+5), id)
	if err != nil {
		t.Fatal(err)
	}
	if a != 2_998_000_000 || b != 5_996_000_000 {
		t.Errorf("payouts: a=%d b=%d", a, b)
	}
	if a*2 != b {
		t.Errorf("payouts not proportional to stakes: %d vs %d", a, b)
	}

	// Everything was claimed exactly, so the sweep has nothing left.
	_, err = e.CollectUnclaimedWinnings(ctx, at(owner, t0+hour+1+core.TenYears), id)
	expectErr(t, err, errs.ErrNothingToCollect)
}

func TestScenario_CancelRefundsEveryStake(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)

	mustPredict(t, e, alice, id, 0, 1*coin)
	mustPredict(t, e, alice, id, 2, 3*coin)
	mustPredict(t, e, bob, id, 1, 2*coin)

	if err := e.CancelEvent(ctx, at(alice, t0+20), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	refundA, err := e.ClaimPayout(ctx, at(alice, t0+30), id)
	if err != nil {
		t.Fatal(err)
	}
	refundB, err := e.ClaimPayout(ctx, at(bob, t0+30), id)
	if err != nil {
		t.Fatal(err)
	}
	if refundA != 4*coin || refundB != 2*coin {
		t.Errorf("refunds: alice=%d bob=%d", refundA, refundB)
	}
	if payer.total() != 6*coin {
		t.Errorf("refund total %d, want all stakes", payer.total())
	}

	_, err = e.ClaimPayout(ctx, at(alice, t0+40), id)
	expectErr(t, err, errs.ErrNoRefund)
	if !errs.IsKind(err, errs.KindNothingToAct) {
		t.Errorf("second refund should be NothingToAct, got kind %v", errs.KindOf(err))
	}

	_, err = e.ClaimPayout(ctx, at(carol, t0+40), id)
	expectErr(t, err, errs.ErrNoRefund)

	details, _ := e.GetEventDetails(id)
	if details.TotalPool != 0 {
		t.Errorf("refunded pool should be empty, got %d", details.TotalPool)
	}
}

func TestScenario_UnclaimedSweepWindow(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)

	mustPredict(t, e, alice, id, 0, 1*coin)
	mustPredict(t, e, bob, id, 1, 2*coin)
	resolvedAt := t0 + hour + 1
	mustResolve(t, e, id, 0)

	_, err := e.CollectUnclaimedWinnings(ctx, at(owner, resolvedAt+core.TenYears-1), id)
	expectErr(t, err, errs.ErrTooEarly)
	if !errs.IsKind(err, errs.KindInvalidState) {
		t.Errorf("too early should be InvalidState, got %v", errs.KindOf(err))
	}

	info, _ := e.GetEventResolutionInfo(id, resolvedAt+core.TenYears-1)
	if info.CanCollectUnclaimed {
		t.Error("sweep should not be available yet")
	}
	info, _ = e.GetEventResolutionInfo(id, resolvedAt+core.TenYears+1)
	if !info.CanCollectUnclaimed || !info.IsResolved || info.ResolvedTimestamp != resolvedAt {
		t.Errorf("unexpected resolution info: %+v", info)
	}

	_, err = e.CollectUnclaimedWinnings(ctx, at(alice, resolvedAt+core.TenYears+1), id)
	expectErr(t, err, errs.ErrNotOwner)

	swept, err := e.CollectUnclaimedWinnings(ctx, at(owner, resolvedAt+core.TenYears+1), id)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if swept != 2_998_000_000 {
		t.Errorf("swept %d", swept)
	}
	if last := payer.payments[len(payer.payments)-1]; last.To != owner || last.Kind != core.PaymentSweep {
		t.Errorf("sweep paid to %s as %s", last.To.Hex(), last.Kind)
	}

	_, err = e.CollectUnclaimedWinnings(ctx, at(owner, resolvedAt+core.TenYears+2), id)
	expectErr(t, err, errs.ErrAlreadyCollected)

	// The winner was too late.
	_, err = e.ClaimPayout(ctx, at(alice, resolvedAt+core.TenYears+3), id)
	expectErr(t, err, errs.ErrNoWinningPrediction)

	info, _ = e.GetEventResolutionInfo(id, resolvedAt+core.TenYears+3)
	if !info.Collected || info.CanCollectUnclaimed {
		t.Errorf("after sweep: %+v", info)
	}
}

// ============================================================================
// Test: Lifecycle Validation
// ============================================================================

func TestCreateEvent_Validation(t *testing.T) {
	e, _, _ := newTestEngine()

	_, err := e.CreateEvent(ctx, at(alice, t0), "x", []string{"only"}, hour, common.Address{})
	expectErr(t, err, errs.ErrTooFewOutcomes)

	_, err = e.CreateEvent(ctx, at(alice, t0), "x", []string{"a", "b"}, 0, common.Address{})
	expectErr(t, err, errs.ErrInvalidDuration)

	_, err = e.CreateEvent(ctx, at(alice, t0), "x", []string{"a", "b"}, hour, oracleA)
	expectErr(t, err, errs.ErrUnauthorizedOracle)

	_, err = e.CreateEventByOracle(ctx, at(oracleA, t0), "x", []string{"a", "b"}, hour)
	expectErr(t, err, errs.ErrUnauthorizedOracle)

	if e.NextEventID() != 0 {
		t.Fatalf("failed creates must not consume ids, next=%d", e.NextEventID())
	}
	if e.Sequence() != 1 {
		t.Fatalf("failed creates must not consume sequences, seq=%d", e.Sequence())
	}

	if err := e.RegisterOracle(ctx, at(owner, t0), "sports", oracleA); err != nil {
		t.Fatal(err)
	}
	id, err := e.CreateEvent(ctx, at(alice, t0), "x", []string{"a", "b"}, hour, oracleA)
	if err != nil || id != 0 {
		t.Fatalf("create with oracle: id=%d err=%v", id, err)
	}
	id, err = e.CreateEventByOracle(ctx, at(oracleA, t0), "y", []string{"a", "b"}, hour)
	if err != nil || id != 1 {
		t.Fatalf("create by oracle: id=%d err=%v", id, err)
	}
	details, _ := e.GetEventDetails(1)
	if details.Creator != oracleA || details.Oracle != oracleA || details.Deadline != t0+hour {
		t.Errorf("oracle event: %+v", details.Market)
	}
}

func TestMakePrediction_Validation(t *testing.T) {
	e, _, _ := newTestEngine()
	id := newMarket(t, e)

	expectErr(t, e.MakePrediction(ctx, at(bob, t0), 99, 0, coin), errs.ErrEventNotFound)
	expectErr(t, e.MakePrediction(ctx, at(bob, t0), id, 3, coin), errs.ErrInvalidOutcome)
	expectErr(t, e.MakePrediction(ctx, at(bob, t0), id, 0, 0), errs.ErrInvalidAmount)
	expectErr(t, e.MakePrediction(ctx, at(bob, t0), id, 0, -5), errs.ErrInvalidAmount)

	// Exactly at the deadline is still open.
	if err := e.MakePrediction(ctx, at(bob, t0+hour), id, 0, coin); err != nil {
		t.Fatalf("prediction at deadline: %v", err)
	}
	expectErr(t, e.MakePrediction(ctx, at(bob, t0+hour+1), id, 0, coin), errs.ErrPredictionClosed)
}

func TestResolveEvent_Authorization(t *testing.T) {
	e, _, _ := newTestEngine()
	selfID := newMarket(t, e)

	expectErr(t, e.ResolveEvent(ctx, at(bob, t0+hour+1), selfID, 0), errs.ErrNotCreator)
	expectErr(t, e.ResolveEvent(ctx, at(alice, t0+hour), selfID, 0), errs.ErrDeadlineNotReached)
	expectErr(t, e.ResolveEvent(ctx, at(alice, t0+hour+1), selfID, 3), errs.ErrInvalidWinner)
	expectErr(t, e.ResolveEvent(ctx, at(alice, t0+hour+1), 42, 0), errs.ErrEventNotFound)

	if err := e.RegisterOracle(ctx, at(owner, t0), "sports", oracleA); err != nil {
		t.Fatal(err)
	}
	oracleID, err := e.CreateEvent(ctx, at(alice, t0), "o", []string{"a", "b"}, hour, oracleA)
	if err != nil {
		t.Fatal(err)
	}
	expectErr(t, e.ResolveEvent(ctx, at(alice, t0+hour+1), oracleID, 0), errs.ErrNotResolver)
	if err := e.ResolveEvent(ctx, at(oracleA, t0+hour+1), oracleID, 1); err != nil {
		t.Fatalf("oracle resolve: %v", err)
	}
}

func TestTerminalStates_AreFinal(t *testing.T) {
	e, _, _ := newTestEngine()
	resolved := newMarket(t, e)
	cancelled := newMarket(t, e)

	mustResolve(t, e, resolved, 2)
	expectErr(t, e.ResolveEvent(ctx, at(alice, t0+hour+2), resolved, 1), errs.ErrAlreadyResolved)
	expectErr(t, e.CancelEvent(ctx, at(alice, t0+hour+2), resolved), errs.ErrAlreadyResolved)
	expectErr(t, e.MakePrediction(ctx, at(bob, t0+10), resolved, 0, coin), errs.ErrAlreadyResolved)

	expectErr(t, e.CancelEvent(ctx, at(bob, t0), cancelled), errs.ErrNotCreator)
	if err := e.CancelEvent(ctx, at(alice, t0), cancelled); err != nil {
		t.Fatal(err)
	}
	expectErr(t, e.CancelEvent(ctx, at(alice, t0), cancelled), errs.ErrAlreadyCancelled)
	expectErr(t, e.MakePrediction(ctx, at(bob, t0+10), cancelled, 0, coin), errs.ErrEventCancelled)
	expectErr(t, e.ResolveEvent(ctx, at(alice, t0+hour+1), cancelled, 0), errs.ErrEventCancelled)

	d, _ := e.GetEventDetails(resolved)
	if !d.Resolved || d.Cancelled || d.WinningOutcome != 2 {
		t.Errorf("resolved market changed: %+v", d.Market)
	}
	d, _ = e.GetEventDetails(cancelled)
	if d.Resolved || !d.Cancelled {
		t.Errorf("cancelled market changed: %+v", d.Market)
	}
}

func TestClaimPayout_BeforeResolution(t *testing.T) {
	e, _, _ := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, coin)

	_, err := e.ClaimPayout(ctx, at(bob, t0+20), id)
	expectErr(t, err, errs.ErrNotResolved)
}

func TestClaimPayout_DoubleClaimFails(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, coin)
	mustPredict(t, e, carol, id, 1, coin)
	mustResolve(t, e, id, 0)

	if _, err := e.ClaimPayout(ctx, at(bob, t0+hour+2), id); err != nil {
		t.Fatal(err)
	}
	_, err := e.ClaimPayout(ctx, at(bob, t0+hour+3), id)
	expectErr(t, err, errs.ErrAlreadyClaimed)

	if len(payer.payments) != 1 {
		t.Errorf("paid %d times", len(payer.payments))
	}
	info := e.GetUserClaimInfo(id, bob)
	if !info.HasClaimed || info.Amount != payer.payments[0].Amount {
		t.Errorf("claim info: %+v", info)
	}
}

// ============================================================================
// Test: Fees
// ============================================================================

func TestResolve_NoLosersChargesNoFee(t *testing.T) {
	e, _, persist := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 1, coin)
	mustPredict(t, e, carol, id, 1, 3*coin)
	drain(persist)
	mustResolve(t, e, id, 1)

	outs := drain(persist)
	if len(outs) != 1 {
		t.Fatalf("expected one output, got %d", len(outs))
	}
	ns := outs[0].Envelope.Notifications
	if len(ns) != 2 || ns[0].Kind() != event.KindEventResolved || ns[1].Kind() != event.KindPlatformFeeCollected {
		t.Fatalf("unexpected notifications: %v", ns)
	}
	if fee := ns[1].(event.PlatformFeeCollected); fee.PlatformFee != 0 || fee.CreatorFee != 0 {
		t.Errorf("no-loser resolution charged %+v", fee)
	}
	if len(outs[0].Batch.Journals) != 0 {
		t.Errorf("zero fees should produce no journals, got %d", len(outs[0].Batch.Journals))
	}

	_, err := e.WithdrawPlatformFees(ctx, at(owner, t0+hour+5))
	expectErr(t, err, errs.ErrNoPlatformFees)
	_, err = e.WithdrawCreatorFees(ctx, at(alice, t0+hour+5))
	expectErr(t, err, errs.ErrNoCreatorFees)
}

func TestResolve_NobodyBackedWinner(t *testing.T) {
	e, _, _ := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 1, 5*coin)
	mustResolve(t, e, id, 0)

	d, _ := e.GetEventDetails(id)
	if d.PlatformFee != 0 || d.CreatorFee != 0 || d.TotalPool != 5*coin {
		t.Errorf("empty winning pool must not charge: %+v", d.Market)
	}
	_, err := e.ClaimPayout(ctx, at(bob, t0+hour+5), id)
	expectErr(t, err, errs.ErrNoWinningPrediction)
}

func TestFeeWithdrawals(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, 1*coin)
	mustPredict(t, e, carol, id, 1, 3*coin)
	mustResolve(t, e, id, 0) // W = 3 coins, fee 3_000_000

	if got := e.GetPlatformFeeBalance(); got != 1_500_000 {
		t.Errorf("platform balance %d", got)
	}
	if got := e.GetCreatorFeeBalance(alice); got != 1_500_000 {
		t.Errorf("creator balance %d", got)
	}

	_, err := e.WithdrawPlatformFees(ctx, at(alice, t0+hour+5))
	expectErr(t, err, errs.ErrNotOwner)

	amount, err := e.WithdrawPlatformFees(ctx, at(owner, t0+hour+5))
	if err != nil || amount != 1_500_000 {
		t.Fatalf("platform withdraw: %d %v", amount, err)
	}
	amount, err = e.WithdrawCreatorFees(ctx, at(alice, t0+hour+5))
	if err != nil || amount != 1_500_000 {
		t.Fatalf("creator withdraw: %d %v", amount, err)
	}
	if e.GetPlatformFeeBalance() != 0 || e.GetCreatorFeeBalance(alice) != 0 {
		t.Error("balances should be zero after withdrawal")
	}
	_, err = e.WithdrawCreatorFees(ctx, at(alice, t0+hour+6))
	expectErr(t, err, errs.ErrNoCreatorFees)

	kinds := []core.PaymentKind{payer.payments[0].Kind, payer.payments[1].Kind}
	if kinds[0] != core.PaymentPlatformFee || kinds[1] != core.PaymentCreatorFee {
		t.Errorf("payment kinds %v", kinds)
	}
}

func TestConservation_EscrowMatchesOutstanding(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)

	stakes := []struct {
		who     common.Address
		outcome uint32
		amount  int64
	}{
		{alice, 0, 1_234_567_891},
		{bob, 0, 987_654_321},
		{carol, 1, 5_555_555_555},
		{bob, 2, 42},
		{alice, 0, 7},
	}
	var placed int64
	for _, s := range stakes {
		mustPredict(t, e, s.who, id, s.outcome, s.amount)
		placed += s.amount
	}
	d, _ := e.GetEventDetails(id)
	if d.TotalPool != placed {
		t.Fatalf("total pool %d != placed %d", d.TotalPool, placed)
	}
	var poolSum int64
	for _, p := range d.Pools {
		poolSum += p
	}
	if poolSum != placed {
		t.Fatalf("outcome pools sum %d != placed %d", poolSum, placed)
	}

	mustResolve(t, e, id, 0)
	d, _ = e.GetEventDetails(id)
	if d.TotalPool+d.PlatformFee+d.CreatorFee != placed {
		t.Errorf("pool after fee + fee != placed")
	}

	for _, who := range []common.Address{alice, bob} {
		if _, err := e.ClaimPayout(ctx, at(who, t0+hour+9), id); err != nil {
			t.Fatal(err)
		}
	}
	swept, err := e.CollectUnclaimedWinnings(ctx, at(owner, t0+hour+1+core.TenYears), id)
	if err != nil {
		t.Fatalf("dust sweep: %v", err)
	}
	if payer.total() != d.TotalPool || swept <= 0 {
		t.Errorf("paid %d (swept %d dust), want %d", payer.total(), swept, d.TotalPool)
	}
}

// ============================================================================
// Test: Atomic Payment Rollback
// ============================================================================

func TestClaimPayout_PaymentFailureRollsBack(t *testing.T) {
	e, payer, persist := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, coin)
	mustPredict(t, e, carol, id, 1, coin)
	mustResolve(t, e, id, 0)
	drain(persist)

	seq := e.Sequence()
	hash := e.StateHash()

	payer.fail = true
	_, err := e.ClaimPayout(ctx, at(bob, t0+hour+2), id)
	expectErr(t, err, errs.ErrPaymentFailed)

	if e.Sequence() != seq || e.StateHash() != hash {
		t.Error("failed payment advanced the chain")
	}
	if info := e.GetUserClaimInfo(id, bob); info.HasClaimed {
		t.Error("claim flag survived a failed payment")
	}
	if outs := drain(persist); len(outs) != 0 {
		t.Errorf("failed payment emitted %d outputs", len(outs))
	}

	payer.fail = false
	paid, err := e.ClaimPayout(ctx, at(bob, t0+hour+3), id)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if paid != e.CalculatePotentialPayout(id, 0, bob) {
		t.Errorf("retry paid %d", paid)
	}
}

func TestCancelRefund_PaymentFailureRollsBack(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, coin)
	if err := e.CancelEvent(ctx, at(alice, t0+20), id); err != nil {
		t.Fatal(err)
	}

	payer.fail = true
	_, err := e.ClaimPayout(ctx, at(bob, t0+30), id)
	expectErr(t, err, errs.ErrPaymentFailed)
	d, _ := e.GetEventDetails(id)
	if d.TotalPool != coin {
		t.Errorf("pool after failed refund %d", d.TotalPool)
	}

	payer.fail = false
	if refund, err := e.ClaimPayout(ctx, at(bob, t0+31), id); err != nil || refund != coin {
		t.Fatalf("refund retry: %d %v", refund, err)
	}
}

func TestWithdraw_PaymentFailureKeepsBalance(t *testing.T) {
	e, payer, _ := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, coin)
	mustPredict(t, e, carol, id, 1, 2*coin)
	mustResolve(t, e, id, 0)

	payer.fail = true
	_, err := e.WithdrawCreatorFees(ctx, at(alice, t0+hour+5))
	expectErr(t, err, errs.ErrPaymentFailed)
	if got := e.GetCreatorFeeBalance(alice); got != 1_000_000 {
		t.Errorf("creator balance after failed withdraw %d", got)
	}
}

// ============================================================================
// Test: Oracle Registry & Ownership
// ============================================================================

func TestOracleRegistry_OwnerOnly(t *testing.T) {
	e, _, _ := newTestEngine()

	expectErr(t, e.RegisterOracle(ctx, at(alice, t0), "sports", oracleA), errs.ErrNotOwner)
	expectErr(t, e.RegisterOracle(ctx, at(owner, t0), "sports", common.Address{}), errs.ErrZeroAddress)

	if err := e.RegisterOracle(ctx, at(owner, t0), "sports", oracleA); err != nil {
		t.Fatal(err)
	}
	expectErr(t, e.RegisterOracle(ctx, at(owner, t0), "weather", oracleA), errs.ErrAlreadyRegistered)
	expectErr(t, e.RegisterOracle(ctx, at(owner, t0), "sports", bob), errs.ErrNameTaken)

	if !e.IsAuthorizedOracle(oracleA) || e.GetOracleAddress("sports") != oracleA {
		t.Error("registered oracle not visible")
	}

	expectErr(t, e.DeregisterOracle(ctx, at(alice, t0), "sports"), errs.ErrNotOwner)
	expectErr(t, e.DeregisterOracle(ctx, at(owner, t0), "nope"), errs.ErrOracleNotFound)
	if err := e.DeregisterOracle(ctx, at(owner, t0), "sports"); err != nil {
		t.Fatal(err)
	}
	if e.IsAuthorizedOracle(oracleA) || e.GetOracleAddress("sports") != (common.Address{}) {
		t.Error("deregistered oracle still visible")
	}
}

func TestTransferOwnership(t *testing.T) {
	e, _, _ := newTestEngine()

	expectErr(t, e.TransferOwnership(ctx, at(owner, t0), common.Address{}), errs.ErrZeroAddress)
	expectErr(t, e.TransferOwnership(ctx, at(bob, t0), bob), errs.ErrNotOwner)

	if err := e.TransferOwnership(ctx, at(owner, t0), bob); err != nil {
		t.Fatal(err)
	}
	if e.Owner() != bob {
		t.Fatalf("owner is %s", e.Owner().Hex())
	}
	expectErr(t, e.RegisterOracle(ctx, at(owner, t0), "sports", oracleA), errs.ErrNotOwner)
	if err := e.RegisterOracle(ctx, at(bob, t0), "sports", oracleA); err != nil {
		t.Fatal(err)
	}
}

// ============================================================================
// Test: Views
// ============================================================================

func TestViews_UserIndexAndParticipants(t *testing.T) {
	e, _, _ := newTestEngine()
	first := newMarket(t, e)
	second := newMarket(t, e)
	_ = newMarket(t, e)

	mustPredict(t, e, bob, second, 1, coin)
	mustPredict(t, e, bob, first, 0, coin)
	mustPredict(t, e, bob, second, 1, 2*coin)
	mustPredict(t, e, carol, second, 1, coin)

	ids := e.GetUserEventIDs(bob)
	if len(ids) != 2 || ids[0] != second || ids[1] != first {
		t.Errorf("user event ids %v", ids)
	}

	preds := e.GetUserEventPredictions(bob)
	if len(preds) != 2 || preds[0].Stakes[1] != 3*coin || preds[1].Stakes[0] != coin {
		t.Errorf("user predictions %+v", preds)
	}

	parts := e.GetPoolParticipants(second, 1)
	if len(parts) != 2 || parts[0] != bob || parts[1] != carol {
		t.Errorf("participants %v", parts)
	}
	if got := e.GetUserPrediction(second, 1, bob); got != 3*coin {
		t.Errorf("user prediction %d", got)
	}

	if e.GetPoolAmount(99, 0) != 0 || len(e.GetPoolParticipants(99, 0)) != 0 || e.GetUserPrediction(99, 7, bob) != 0 {
		t.Error("unknown event reads should be zero")
	}
	if _, err := e.GetEventDetails(99); !errors.Is(err, errs.ErrEventNotFound) {
		t.Errorf("details of unknown event: %v", err)
	}
	if len(e.GetUserEventIDs(owner)) != 0 {
		t.Error("untouched user should have no events")
	}
}

func TestViews_PendingResolutions(t *testing.T) {
	e, _, _ := newTestEngine()
	a := newMarket(t, e)
	b := newMarket(t, e)
	c := newMarket(t, e)
	if err := e.CancelEvent(ctx, at(alice, t0), c); err != nil {
		t.Fatal(err)
	}

	if got := e.ListPendingResolutions(alice, t0+hour); len(got) != 0 {
		t.Errorf("nothing is due at the deadline, got %d", len(got))
	}
	mustResolve(t, e, a, 0)
	got := e.ListPendingResolutions(alice, t0+hour+1)
	if len(got) != 1 || got[0].ID != b {
		t.Errorf("pending %+v", got)
	}
	if got := e.ListPendingResolutions(bob, t0+hour+1); len(got) != 0 {
		t.Errorf("bob resolves nothing, got %d", len(got))
	}
}

// ============================================================================
// Test: Outputs & State Hash Chain
// ============================================================================

func TestOutputs_EnvelopePerCommand(t *testing.T) {
	e, _, persist := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 2, coin)

	outs := drain(persist)
	if len(outs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outs))
	}
	if outs[0].Envelope.Sequence != 1 || outs[1].Envelope.Sequence != 2 {
		t.Errorf("sequences %d, %d", outs[0].Envelope.Sequence, outs[1].Envelope.Sequence)
	}
	if outs[1].Envelope.PrevHash != outs[0].Envelope.StateHash {
		t.Error("hash chain broken")
	}
	if outs[1].Envelope.CommandType != "MakePrediction" || *outs[1].Envelope.MarketID != id {
		t.Errorf("envelope %+v", outs[1].Envelope)
	}
	if outs[1].Envelope.Timestamp.Unix() != t0+10 {
		t.Errorf("timestamp %v", outs[1].Envelope.Timestamp)
	}
	placed, ok := outs[1].Envelope.Notifications[0].(event.PredictionPlaced)
	if !ok || placed.Predictor != bob || placed.OutcomeIndex != 2 || placed.Amount != coin {
		t.Errorf("notification %+v", outs[1].Envelope.Notifications[0])
	}
	if len(outs[1].Batch.Journals) != 1 {
		t.Errorf("stake should journal once, got %d", len(outs[1].Batch.Journals))
	}
}

// script is a fixed command sequence with stable ids.
func script() []command.Command {
	meta := func(n int, who common.Address, ts int64) command.Meta {
		return command.Meta{CommandID: fmt.Sprintf("cmd-%03d", n), Call: at(who, ts)}
	}
	return []command.Command{
		&command.RegisterOracle{Meta: meta(1, owner, t0), Name: "sports", Oracle: oracleA},
		&command.CreateEvent{Meta: meta(2, alice, t0), Name: "final", Outcomes: []string{"home", "away"}, Duration: hour, Oracle: oracleA},
		&command.CreateEvent{Meta: meta(3, bob, t0), Name: "rain", Outcomes: []string{"yes", "no", "maybe"}, Duration: hour},
		&command.MakePrediction{Meta: meta(4, bob, t0+1), EventID: 0, OutcomeIndex: 0, Amount: 3 * coin},
		&command.MakePrediction{Meta: meta(5, carol, t0+2), EventID: 0, OutcomeIndex: 1, Amount: 7 * coin},
		&command.MakePrediction{Meta: meta(6, alice, t0+3), EventID: 1, OutcomeIndex: 2, Amount: coin},
		&command.ResolveEvent{Meta: meta(7, oracleA, t0+hour+1), EventID: 0, WinningOutcome: 0},
		&command.CancelEvent{Meta: meta(8, bob, t0+4), EventID: 1},
		&command.ClaimPayout{Meta: meta(9, bob, t0+hour+2), EventID: 0},
		&command.ClaimPayout{Meta: meta(10, alice, t0+hour+3), EventID: 1},
		&command.WithdrawCreatorFees{Meta: meta(11, alice, t0+hour+4)},
		&command.WithdrawPlatformFees{Meta: meta(12, owner, t0+hour+5)},
	}
}

func runScript(t *testing.T, e *core.Engine, cmds []command.Command) {
	t.Helper()
	for _, cmd := range cmds {
		if _, err := e.Execute(ctx, cmd); err != nil {
			t.Fatalf("%s %s: %v", cmd.CommandType(), cmd.IdempotencyKey(), err)
		}
	}
}

func TestStateHashChain_Deterministic(t *testing.T) {
	e1, _, _ := newTestEngine()
	e2, _, _ := newTestEngine()

	runScript(t, e1, script())
	runScript(t, e2, script())

	if e1.StateHash() != e2.StateHash() {
		t.Fatal("identical command streams produced different hashes")
	}
	if e1.Sequence() != int64(len(script()))+1 {
		t.Errorf("sequence %d", e1.Sequence())
	}

	e3, _, _ := newTestEngine()
	cmds := script()
	cmds[3].(*command.MakePrediction).Amount++
	runScript(t, e3, cmds)
	if e3.StateHash() == e1.StateHash() {
		t.Error("different stake produced the same hash")
	}
}

func TestReplay_RebuildsStateWithoutPaying(t *testing.T) {
	live, livePayer, persist := newTestEngine()
	runScript(t, live, script())
	outs := drain(persist)
	if len(livePayer.payments) == 0 {
		t.Fatal("script should pay someone")
	}

	replayPayer := &recordingPayer{}
	rebuilt := core.NewEngine(core.Config{Owner: owner, Payer: replayPayer})
	for _, out := range outs {
		if err := rebuilt.Replay(ctx, out.Envelope); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}

	if rebuilt.StateHash() != live.StateHash() {
		t.Error("replayed hash differs from live hash")
	}
	if len(replayPayer.payments) != 0 {
		t.Errorf("replay paid %d times", len(replayPayer.payments))
	}
	if rebuilt.GetUserClaimInfo(0, bob) != live.GetUserClaimInfo(0, bob) {
		t.Error("claim state differs after replay")
	}
}

func TestReplay_RejectsGapAndTamper(t *testing.T) {
	live, _, persist := newTestEngine()
	runScript(t, live, script()[:4])
	outs := drain(persist)

	gap := core.NewEngine(core.Config{Owner: owner})
	if err := gap.Replay(ctx, outs[1].Envelope); err == nil {
		t.Error("replay starting at sequence 2 should fail")
	}

	tampered := core.NewEngine(core.Config{Owner: owner})
	env := *outs[0].Envelope
	env.StateHash[0] ^= 0xff
	if err := tampered.Replay(ctx, &env); err == nil {
		t.Error("tampered hash should fail replay")
	}

	unlinked := core.NewEngine(core.Config{Owner: owner})
	if err := unlinked.Replay(ctx, outs[0].Envelope); err != nil {
		t.Fatalf("replay first: %v", err)
	}
	next := *outs[1].Envelope
	next.PrevHash[0] ^= 0xff
	if err := unlinked.Replay(ctx, &next); err == nil {
		t.Error("envelope not linked to the chain tip should fail replay")
	}
	if unlinked.Sequence() != 2 {
		t.Errorf("sequence after rejected replay = %d, want 2", unlinked.Sequence())
	}
}

func TestSnapshot_RestoreContinuesChain(t *testing.T) {
	cmds := script()
	live, _, _ := newTestEngine()
	runScript(t, live, cmds[:7])

	snap := live.CreateSnapshotState()
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var decoded core.SnapshotState
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}

	restored := core.NewEngine(core.Config{Owner: common.Address{}})
	if err := restored.RestoreFromSnapshot(&decoded); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Sequence() != live.Sequence() || restored.StateHash() != live.StateHash() {
		t.Fatal("restore did not resume the chain")
	}
	if restored.Owner() != owner {
		t.Errorf("owner %s", restored.Owner().Hex())
	}

	runScript(t, live, cmds[7:])
	runScript(t, restored, cmds[7:])
	if restored.StateHash() != live.StateHash() {
		t.Error("chains diverged after restore")
	}
}

// ============================================================================
// Test: Processor Deduplication
// ============================================================================

func TestProcessor_DuplicateCommandIgnored(t *testing.T) {
	e, _, _ := newTestEngine()
	p := core.NewProcessor(e, 16, nil, nil, zerolog.Nop())

	cmd := &command.CreateEvent{
		Meta: command.Meta{CommandID: "same", Call: at(alice, t0)},
		Name: "x", Outcomes: []string{"a", "b"}, Duration: hour,
	}
	first, err := p.Submit(ctx, cmd)
	if err != nil || first.Duplicate {
		t.Fatalf("first submit: %+v %v", first, err)
	}
	second, err := p.Submit(ctx, cmd)
	if err != nil || !second.Duplicate {
		t.Fatalf("second submit: %+v %v", second, err)
	}
	if e.NextEventID() != 1 || e.Sequence() != 2 {
		t.Errorf("duplicate changed state: next=%d seq=%d", e.NextEventID(), e.Sequence())
	}
	if keys := p.RecentKeys(); len(keys) != 1 || keys[0] != "CreateEvent:same" {
		t.Errorf("recent keys %v", keys)
	}
}

type fakeDB struct {
	seen map[string]bool
	err  error
}

func (f fakeDB) IsDuplicate(commandType, key string) (bool, error) {
	return f.seen[commandType+":"+key], f.err
}

func TestProcessor_DatabaseTierCatchesEvictedKeys(t *testing.T) {
	e, _, _ := newTestEngine()
	p := core.NewProcessor(e, 1, fakeDB{seen: map[string]bool{"CancelEvent:old": true}}, nil, zerolog.Nop())

	res, err := p.Submit(ctx, &command.CancelEvent{Meta: command.Meta{CommandID: "old", Call: at(alice, t0)}, EventID: 0})
	if err != nil || !res.Duplicate {
		t.Fatalf("db duplicate not detected: %+v %v", res, err)
	}
}

func TestProcessor_DatabaseOutageRejectsInsteadOfApplying(t *testing.T) {
	e, _, _ := newTestEngine()
	p := core.NewProcessor(e, 4, fakeDB{err: errors.New("connection refused")}, nil, zerolog.Nop())

	_, err := p.Submit(ctx, &command.CreateEvent{
		Meta: command.Meta{CommandID: "c1", Call: at(alice, t0)},
		Name: "x", Outcomes: []string{"a", "b"}, Duration: hour,
	})
	expectErr(t, err, errs.ErrDedupFailed)
	if errs.KindOf(err) != errs.KindInternal {
		t.Errorf("kind = %v, want internal so the command is redelivered", errs.KindOf(err))
	}
	if e.NextEventID() != 0 {
		t.Errorf("command applied despite failed duplicate check")
	}
}

func TestProcessor_RejectedCommandNotRemembered(t *testing.T) {
	e, _, _ := newTestEngine()
	p := core.NewProcessor(e, 16, nil, nil, zerolog.Nop())

	cmd := &command.CancelEvent{Meta: command.Meta{CommandID: "c1", Call: at(alice, t0)}, EventID: 0}
	_, err := p.Submit(ctx, cmd)
	expectErr(t, err, errs.ErrEventNotFound)

	newMarket(t, e)
	if _, err := p.Submit(ctx, cmd); err != nil {
		t.Fatalf("retry after rejection: %v", err)
	}
}

func TestExecute_RejectsMissingCommandID(t *testing.T) {
	e, _, _ := newTestEngine()
	_, err := e.Execute(ctx, &command.CancelEvent{EventID: 0})
	expectErr(t, err, errs.ErrMalformed)
}

func TestProcessor_StampsCommandsWithItsClock(t *testing.T) {
	e, _, _ := newTestEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, coin)
	mustPredict(t, e, carol, id, 1, coin)

	p := core.NewProcessor(e, 16, nil, nil, zerolog.Nop())
	p.SetClock(func() time.Time { return time.Unix(t0+hour+1, 0) })

	// Dated inside the open window; the processor clock is past the deadline.
	late := &command.MakePrediction{
		Meta:    command.Meta{CommandID: "late", Call: at(bob, t0+10)},
		EventID: id, OutcomeIndex: 0, Amount: coin,
	}
	_, err := p.Submit(ctx, late)
	expectErr(t, err, errs.ErrPredictionClosed)
	if got := late.Context().Timestamp; got != t0+hour+1 {
		t.Errorf("command stamped %d, want %d", got, t0+hour+1)
	}

	if _, err := p.Submit(ctx, &command.ResolveEvent{
		Meta:    command.Meta{CommandID: "resolve", Call: at(alice, t0)},
		EventID: id, WinningOutcome: 0,
	}); err != nil {
		t.Fatalf("resolve at processor time: %v", err)
	}

	// Dated after the dormancy window; the processor clock is not.
	_, err = p.Submit(ctx, &command.CollectUnclaimed{
		Meta:    command.Meta{CommandID: "sweep", Call: at(owner, t0+hour+1+core.TenYears)},
		EventID: id,
	})
	expectErr(t, err, errs.ErrTooEarly)
}

// ============================================================================
// Test: Ledger Clock
// ============================================================================

func TestExecute_BackdatedCallUsesLedgerClock(t *testing.T) {
	e, _, persist := newTestEngine()
	early := newMarket(t, e)
	if _, err := e.CreateEvent(ctx, at(bob, t0+2*hour), "later", []string{"x", "y"}, hour, common.Address{}); err != nil {
		t.Fatal(err)
	}
	if got := e.Clock(); got != t0+2*hour {
		t.Fatalf("clock = %d, want %d", got, t0+2*hour)
	}

	expectErr(t, e.MakePrediction(ctx, at(carol, t0+10), early, 0, coin), errs.ErrPredictionClosed)

	drain(persist)
	third, err := e.CreateEvent(ctx, at(alice, t0), "third", []string{"x", "y"}, hour, common.Address{})
	if err != nil {
		t.Fatal(err)
	}
	d, _ := e.GetEventDetails(third)
	if d.Deadline != t0+3*hour {
		t.Errorf("deadline %d, want %d", d.Deadline, t0+3*hour)
	}
	outs := drain(persist)
	if len(outs) != 1 {
		t.Fatalf("expected one output, got %d", len(outs))
	}
	if ts := outs[0].Envelope.Timestamp.Unix(); ts != t0+2*hour {
		t.Errorf("backdated command logged at %d, want %d", ts, t0+2*hour)
	}
	if got := e.Clock(); got != t0+2*hour {
		t.Errorf("clock moved backwards to %d", got)
	}
}

func TestExecute_RejectedCommandDoesNotAdvanceClock(t *testing.T) {
	e, _, _ := newTestEngine()
	id := newMarket(t, e)

	expectErr(t, e.ResolveEvent(ctx, at(bob, t0+5*hour), id, 0), errs.ErrNotCreator)
	if got := e.Clock(); got != t0 {
		t.Fatalf("clock = %d after a rejected command, want %d", got, t0)
	}
	mustPredict(t, e, bob, id, 0, coin)
}

func TestSnapshot_RestoreKeepsLedgerClock(t *testing.T) {
	live, _, _ := newTestEngine()
	id := newMarket(t, live)
	if _, err := live.CreateEvent(ctx, at(bob, t0+2*hour), "later", []string{"x", "y"}, hour, common.Address{}); err != nil {
		t.Fatal(err)
	}

	restored := core.NewEngine(core.Config{Owner: owner})
	if err := restored.RestoreFromSnapshot(live.CreateSnapshotState()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Clock() != live.Clock() {
		t.Fatalf("clock %d, want %d", restored.Clock(), live.Clock())
	}
	expectErr(t, restored.MakePrediction(ctx, at(carol, t0+10), id, 0, coin), errs.ErrPredictionClosed)
}

func TestReplay_ReproducesClampedTimestamps(t *testing.T) {
	live, _, persist := newTestEngine()
	id := newMarket(t, live)
	mustPredict(t, live, bob, id, 0, coin)
	mustResolve(t, live, id, 0)
	// Stamped before the resolution it follows.
	if _, err := live.ClaimPayout(ctx, at(bob, t0+20), id); err != nil {
		t.Fatal(err)
	}

	rebuilt := core.NewEngine(core.Config{Owner: owner})
	for _, out := range drain(persist) {
		if err := rebuilt.Replay(ctx, out.Envelope); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	if rebuilt.StateHash() != live.StateHash() || rebuilt.Clock() != live.Clock() {
		t.Error("replay diverged from the live ledger")
	}
}

// ============================================================================
// Test: Payment Outbox
// ============================================================================

func TestOutbox_PaymentWaitsForTheEventLog(t *testing.T) {
	live, payer, persist := newOutboxEngine()
	id := newMarket(t, live)
	mustPredict(t, live, bob, id, 0, coin)
	mustPredict(t, live, carol, id, 1, coin)
	mustResolve(t, live, id, 0)
	logged := drain(persist)

	paid, err := live.ClaimPayout(ctx, at(bob, t0+hour+2), id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if n := len(payer.payments); n != 0 {
		t.Fatalf("paid %d times before the claim reached the log", n)
	}
	claim := drain(persist)
	if len(claim) != 1 || len(claim[0].Payments) != 1 {
		t.Fatalf("claim output carries %+v", claim)
	}
	owed := claim[0].Payments[0]
	if owed.To != bob || owed.Amount != paid || owed.Kind != core.PaymentPayout || owed.Reference == "" {
		t.Errorf("owed payment %+v", owed)
	}

	// Lost before the log committed it: nothing went out, so the rebuilt
	// ledger lets bob claim again and owes exactly one payment.
	lost, lostPersist := rebuild(t, logged)
	if lost.GetUserClaimInfo(id, bob).HasClaimed {
		t.Fatal("unlogged claim survived the restart")
	}
	if _, err := lost.ClaimPayout(ctx, at(bob, t0+hour+3), id); err != nil {
		t.Fatalf("claim after restart: %v", err)
	}
	if retry := drain(lostPersist); len(retry) != 1 || len(retry[0].Payments) != 1 {
		t.Errorf("retried claim owes %+v", retry)
	}

	// Committed before the crash: replay restores the claim and refuses a
	// second one.
	kept, keptPersist := rebuild(t, append(logged, claim...))
	_, err = kept.ClaimPayout(ctx, at(bob, t0+hour+3), id)
	expectErr(t, err, errs.ErrAlreadyClaimed)
	if outs := drain(keptPersist); len(outs) != 0 {
		t.Errorf("refused claim emitted %d outputs", len(outs))
	}
	if kept.StateHash() != live.StateHash() {
		t.Error("replayed ledger differs from the live one")
	}
}

func TestOutbox_WithdrawalOwesOnePaymentPerCommand(t *testing.T) {
	e, payer, persist := newOutboxEngine()
	id := newMarket(t, e)
	mustPredict(t, e, bob, id, 0, coin)
	mustPredict(t, e, carol, id, 1, 3*coin)
	mustResolve(t, e, id, 0)
	drain(persist)

	if _, err := e.WithdrawPlatformFees(ctx, at(owner, t0+hour+5)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.WithdrawCreatorFees(ctx, at(alice, t0+hour+5)); err != nil {
		t.Fatal(err)
	}
	outs := drain(persist)
	if len(outs) != 2 || len(payer.payments) != 0 {
		t.Fatalf("outputs %d, inline payments %d", len(outs), len(payer.payments))
	}
	if p := outs[0].Payments; len(p) != 1 || p[0].Kind != core.PaymentPlatformFee || p[0].To != owner {
		t.Errorf("platform withdrawal owes %+v", p)
	}
	if p := outs[1].Payments; len(p) != 1 || p[0].Kind != core.PaymentCreatorFee || p[0].To != alice {
		t.Errorf("creator withdrawal owes %+v", p)
	}
}

// ============================================================================
// Test: Concurrent Claims
// ============================================================================

func TestConcurrent_ClaimsAndReadsPayEachWinnerOnce(t *testing.T) {
	const stakers = 50
	const attempts = 4

	e, payer, _ := newTestEngine()
	id := newMarket(t, e)

	winners := make([]common.Address, stakers)
	for i := range winners {
		winners[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		mustPredict(t, e, winners[i], id, 0, int64(i+1)*coin/7)
	}
	mustPredict(t, e, carol, id, 1, 10*coin)
	mustResolve(t, e, id, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	claimed := make(map[common.Address]int64)
	for _, who := range winners {
		for n := 0; n < attempts; n++ {
			wg.Add(2)
			go func(who common.Address) {
				defer wg.Done()
				amount, err := e.ClaimPayout(ctx, at(who, t0+hour+2), id)
				if err != nil {
					if !errors.Is(err, errs.ErrAlreadyClaimed) {
						t.Errorf("claim %s: %v", who.Hex(), err)
					}
					return
				}
				mu.Lock()
				claimed[who] += amount
				mu.Unlock()
			}(who)
			go func() {
				defer wg.Done()
				d, err := e.GetEventDetails(id)
				if err != nil {
					t.Errorf("details: %v", err)
					return
				}
				if d.ClaimedTotal < 0 || d.ClaimedTotal > d.TotalPool {
					t.Errorf("torn read: claimed %d of %d", d.ClaimedTotal, d.TotalPool)
				}
			}()
		}
	}
	wg.Wait()

	perWinner := make(map[common.Address]int)
	for _, p := range payer.payments {
		perWinner[p.To]++
	}
	var owed int64
	for _, who := range winners {
		if perWinner[who] != 1 {
			t.Errorf("%s paid %d times", who.Hex(), perWinner[who])
		}
		want := e.CalculatePotentialPayout(id, 0, who)
		if claimed[who] != want {
			t.Errorf("%s claimed %d, want %d", who.Hex(), claimed[who], want)
		}
		owed += want
	}
	if payer.total() != owed {
		t.Errorf("paid %d, want %d", payer.total(), owed)
	}

	d, _ := e.GetEventDetails(id)
	if d.ClaimedTotal != owed {
		t.Errorf("claimed total %d, want %d", d.ClaimedTotal, owed)
	}
	if got := escrowOf(e, id); got != d.Outstanding() {
		t.Errorf("escrow %d, outstanding %d", got, d.Outstanding())
	}
}

// ============================================================================
// Test: Snapshot Restore Failure
// ============================================================================

func TestSnapshot_CorruptRestoreLeavesEngineUntouched(t *testing.T) {
	cmds := script()
	source, _, _ := newTestEngine()
	runScript(t, source, cmds[:7])
	snap := source.CreateSnapshotState()
	snap.Markets[0].TotalPool++ // escrow no longer matches

	target, _, _ := newTestEngine()
	runScript(t, target, cmds[:4])
	seq, hash, clock := target.Sequence(), target.StateHash(), target.Clock()
	before, _ := target.GetEventDetails(0)

	if err := target.RestoreFromSnapshot(snap); err == nil {
		t.Fatal("corrupt snapshot restored")
	}
	if target.Sequence() != seq || target.StateHash() != hash || target.Clock() != clock {
		t.Fatal("failed restore moved the chain")
	}
	after, _ := target.GetEventDetails(0)
	if after.TotalPool != before.TotalPool || after.Resolved != before.Resolved {
		t.Errorf("failed restore replaced markets: %+v", after.Market)
	}
	if got := target.GetUserPrediction(0, 1, carol); got != 0 {
		t.Errorf("failed restore replaced stakes: carol has %d", got)
	}

	reference, _, _ := newTestEngine()
	runScript(t, reference, cmds)
	runScript(t, target, cmds[4:])
	if target.StateHash() != reference.StateHash() {
		t.Error("engine diverged after a failed restore")
	}
}
