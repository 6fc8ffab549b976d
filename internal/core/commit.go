package core

import (
	"PredictLedger/internal/event"
	"PredictLedger/internal/ledger"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// commit applies the journals, checks invariants, extends the hash chain and
// hands the output downstream. Any failure here is a bug, so it panics.
func (e *Engine) commit(t *txn) {
	batch := t.batch
	if len(batch.Journals) > 0 {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := e.balances.ApplyBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
		}
		if e.metrics != nil {
			for _, j := range batch.Journals {
				e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	if err := e.postCheckInvariants(t); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	hashStart := time.Now()
	prevHash := e.hasher.Tip()
	stateHash := e.hasher.Extend(e.sequence, t.cmd.CommandType().String(), e.computeStateDigest(t))
	if e.metrics != nil {
		e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	t.result.Sequence = e.sequence
	t.result.StateHash = stateHash
	t.result.Notifications = t.notifications

	if !e.replaying && (e.persistChan != nil || e.projectionChan != nil) {
		payload, err := json.Marshal(t.cmd)
		if err != nil {
			panic(fmt.Sprintf("FATAL: cannot encode command %s: %v", t.cmd.IdempotencyKey(), err))
		}
		output := CoreOutput{
			Envelope: &event.Envelope{
				Sequence:       e.sequence,
				IdempotencyKey: t.cmd.IdempotencyKey(),
				CommandType:    t.cmd.CommandType().String(),
				MarketID:       t.marketID,
				Timestamp:      time.Unix(t.call.Timestamp, 0).UTC(),
				Payload:        payload,
				Notifications:  t.notifications,
				StateHash:      stateHash,
				PrevHash:       prevHash,
			},
			Batch:    batch,
			Payments: t.payments,
		}
		e.emitOutput(output)
	}

	e.sequence++
}

// emitOutput blocks on the persist channel so nothing is lost, and drops on
// a full projection channel; projections rebuild from the event log.
func (e *Engine) emitOutput(output CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}

	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

// postCheckInvariants validates ledger invariants after batch application
func (e *Engine) postCheckInvariants(t *txn) error {
	if t.marketID != nil {
		m, ok := e.markets.Get(*t.marketID)
		if ok {
			if err := e.validator.ValidateEscrow(m.ID, m.Outstanding()); err != nil {
				return err
			}
		}
	}

	if err := e.validator.ValidateInternalAccountsNonNegative(t.batch); err != nil {
		return err
	}

	if e.sequence%globalCheckInterval == 0 {
		if err := e.validator.ValidateGlobalBalance(); err != nil {
			return err
		}
	}

	return nil
}

// computeStateDigest creates canonical bytes for the state hash: the encoded
// notifications followed by every touched account and its new balance.
func (e *Engine) computeStateDigest(t *txn) []byte {
	notifications, err := event.MarshalNotifications(t.notifications)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode notifications: %v", err))
	}

	affected := make(map[ledger.AccountKey]bool)
	for _, j := range t.batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(notifications)+len(accounts)*64)
	digest = appendInt64LE(digest, int64(len(notifications)))
	digest = append(digest, notifications...)

	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, e.balances.GetBalance(key))
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
