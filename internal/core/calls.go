package core

import (
	"PredictLedger/internal/command"
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// --- Direct call API ---
// These wrap Execute for in-process callers. Each call gets a fresh
// command id, so none of them is deduplicated.

func meta(call command.Call) command.Meta {
	return command.Meta{CommandID: uuid.NewString(), Call: call}
}

// CreateEvent returns the new event id. A zero oracle means the creator resolves.
func (e *Engine) CreateEvent(ctx context.Context, call command.Call, name string, outcomes []string, duration int64, oracle common.Address) (uint64, error) {
	res, err := e.Execute(ctx, &command.CreateEvent{
		Meta: meta(call), Name: name, Outcomes: outcomes, Duration: duration, Oracle: oracle,
	})
	return res.EventID, err
}

func (e *Engine) CreateEventByOracle(ctx context.Context, call command.Call, name string, outcomes []string, duration int64) (uint64, error) {
	res, err := e.Execute(ctx, &command.CreateEventByOracle{
		Meta: meta(call), Name: name, Outcomes: outcomes, Duration: duration,
	})
	return res.EventID, err
}

func (e *Engine) MakePrediction(ctx context.Context, call command.Call, id uint64, outcome uint32, amount int64) error {
	_, err := e.Execute(ctx, &command.MakePrediction{
		Meta: meta(call), EventID: id, OutcomeIndex: outcome, Amount: amount,
	})
	return err
}

func (e *Engine) ResolveEvent(ctx context.Context, call command.Call, id uint64, winningOutcome uint32) error {
	_, err := e.Execute(ctx, &command.ResolveEvent{
		Meta: meta(call), EventID: id, WinningOutcome: winningOutcome,
	})
	return err
}

func (e *Engine) CancelEvent(ctx context.Context, call command.Call, id uint64) error {
	_, err := e.Execute(ctx, &command.CancelEvent{Meta: meta(call), EventID: id})
	return err
}

// ClaimPayout returns the amount paid, a payout or a refund.
func (e *Engine) ClaimPayout(ctx context.Context, call command.Call, id uint64) (int64, error) {
	res, err := e.Execute(ctx, &command.ClaimPayout{Meta: meta(call), EventID: id})
	return res.Amount, err
}

func (e *Engine) CollectUnclaimedWinnings(ctx context.Context, call command.Call, id uint64) (int64, error) {
	res, err := e.Execute(ctx, &command.CollectUnclaimed{Meta: meta(call), EventID: id})
	return res.Amount, err
}

func (e *Engine) WithdrawPlatformFees(ctx context.Context, call command.Call) (int64, error) {
	res, err := e.Execute(ctx, &command.WithdrawPlatformFees{Meta: meta(call)})
	return res.Amount, err
}

func (e *Engine) WithdrawCreatorFees(ctx context.Context, call command.Call) (int64, error) {
	res, err := e.Execute(ctx, &command.WithdrawCreatorFees{Meta: meta(call)})
	return res.Amount, err
}

func (e *Engine) RegisterOracle(ctx context.Context, call command.Call, name string, oracle common.Address) error {
	_, err := e.Execute(ctx, &command.RegisterOracle{Meta: meta(call), Name: name, Oracle: oracle})
	return err
}

func (e *Engine) DeregisterOracle(ctx context.Context, call command.Call, name string) error {
	_, err := e.Execute(ctx, &command.DeregisterOracle{Meta: meta(call), Name: name})
	return err
}

func (e *Engine) TransferOwnership(ctx context.Context, call command.Call, newOwner common.Address) error {
	_, err := e.Execute(ctx, &command.TransferOwnership{Meta: meta(call), NewOwner: newOwner})
	return err
}
