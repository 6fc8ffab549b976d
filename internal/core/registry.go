package core

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
)

// --- Oracle registry & ownership handlers ---

func (e *Engine) handleRegisterOracle(t *txn, c *command.RegisterOracle) error {
	if t.call.Caller != e.owner {
		return errs.ErrNotOwner
	}
	if err := e.oracles.Register(c.Name, c.Oracle); err != nil {
		return err
	}
	t.emit(event.OracleRegistered{Name: c.Name, Oracle: c.Oracle})
	return nil
}

func (e *Engine) handleDeregisterOracle(t *txn, c *command.DeregisterOracle) error {
	if t.call.Caller != e.owner {
		return errs.ErrNotOwner
	}
	addr, err := e.oracles.Deregister(c.Name)
	if err != nil {
		return err
	}
	t.emit(event.OracleDeregistered{Name: c.Name, Oracle: addr})
	return nil
}

func (e *Engine) handleTransferOwnership(t *txn, c *command.TransferOwnership) error {
	if t.call.Caller != e.owner {
		return errs.ErrNotOwner
	}
	if c.NewOwner == (common.Address{}) {
		return errs.ErrZeroAddress
	}

	prev := e.owner
	e.owner = c.NewOwner
	t.emit(event.OwnershipTransferred{PreviousOwner: prev, NewOwner: c.NewOwner})
	return nil
}
