package query

import (
	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/observability"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/state"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QueryService serves reads. Point lookups come from the engine's in-memory
// views and are always current; listings and history come from Postgres
// and carry the sequence they reflect.
type QueryService struct {
	engine   *core.Engine
	db       *sql.DB
	activity *projection.ActivityProjection
	metrics  *observability.Metrics
}

func NewQueryService(engine *core.Engine, db *sql.DB, activity *projection.ActivityProjection, metrics *observability.Metrics) *QueryService {
	return &QueryService{engine: engine, db: db, activity: activity, metrics: metrics}
}

// observe records request count, latency and error code for one endpoint.
func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		qs.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		qs.metrics.QueryErrors.WithLabelValues(endpoint, string(errs.CodeOf(err))).Inc()
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
}

func (qs *QueryService) lastSequence() int64 {
	return qs.engine.Sequence() - 1
}

// --- In-memory views ---

func (qs *QueryService) GetEventDetails(ctx context.Context, id uint64) (resp *EventResponse, err error) {
	defer func(start time.Time) { qs.observe("GetEventDetails", start, err) }(time.Now())

	details, err := qs.engine.GetEventDetails(id)
	if err != nil {
		return nil, err
	}
	return &EventResponse{
		EventDetails:     details,
		TotalPoolDisplay: fpmath.FormatAmount(details.TotalPool),
		AsOfSequence:     qs.lastSequence(),
	}, nil
}

func (qs *QueryService) GetPoolAmount(ctx context.Context, id uint64, outcome uint32) int64 {
	defer qs.observe("GetPoolAmount", time.Now(), nil)
	return qs.engine.GetPoolAmount(id, outcome)
}

func (qs *QueryService) GetUserPrediction(ctx context.Context, id uint64, outcome uint32, user common.Address) int64 {
	defer qs.observe("GetUserPrediction", time.Now(), nil)
	return qs.engine.GetUserPrediction(id, outcome, user)
}

func (qs *QueryService) GetPoolParticipants(ctx context.Context, id uint64, outcome uint32) []common.Address {
	defer qs.observe("GetPoolParticipants", time.Now(), nil)
	return qs.engine.GetPoolParticipants(id, outcome)
}

func (qs *QueryService) CalculatePotentialPayout(ctx context.Context, id uint64, outcome uint32, user common.Address) int64 {
	defer qs.observe("CalculatePotentialPayout", time.Now(), nil)
	return qs.engine.CalculatePotentialPayout(id, outcome, user)
}

func (qs *QueryService) GetCreatorFeeBalance(ctx context.Context, creator common.Address) BalanceResponse {
	defer qs.observe("GetCreatorFeeBalance", time.Now(), nil)
	bal := qs.engine.GetCreatorFeeBalance(creator)
	return BalanceResponse{
		Owner:        creator,
		Balance:      bal,
		Display:      fpmath.FormatAmount(bal),
		AsOfSequence: qs.lastSequence(),
	}
}

func (qs *QueryService) GetPlatformFeeBalance(ctx context.Context) BalanceResponse {
	defer qs.observe("GetPlatformFeeBalance", time.Now(), nil)
	bal := qs.engine.GetPlatformFeeBalance()
	return BalanceResponse{
		Owner:        qs.engine.Owner(),
		Balance:      bal,
		Display:      fpmath.FormatAmount(bal),
		AsOfSequence: qs.lastSequence(),
	}
}

// GetEventResolutionInfo evaluates the sweep window at now (Unix seconds).
func (qs *QueryService) GetEventResolutionInfo(ctx context.Context, id uint64, now int64) (info core.ResolutionInfo, err error) {
	defer func(start time.Time) { qs.observe("GetEventResolutionInfo", start, err) }(time.Now())
	return qs.engine.GetEventResolutionInfo(id, now)
}

func (qs *QueryService) NextEventID(ctx context.Context) uint64 {
	defer qs.observe("NextEventID", time.Now(), nil)
	return qs.engine.NextEventID()
}

func (qs *QueryService) IsAuthorizedOracle(ctx context.Context, addr common.Address) bool {
	defer qs.observe("IsAuthorizedOracle", time.Now(), nil)
	return qs.engine.IsAuthorizedOracle(addr)
}

func (qs *QueryService) GetOracleAddress(ctx context.Context, name string) common.Address {
	defer qs.observe("GetOracleAddress", time.Now(), nil)
	return qs.engine.GetOracleAddress(name)
}

func (qs *QueryService) ListOracles(ctx context.Context) []state.OracleRecord {
	defer qs.observe("ListOracles", time.Now(), nil)
	return qs.engine.ListOracles()
}

func (qs *QueryService) GetUserEventIDs(ctx context.Context, user common.Address) []uint64 {
	defer qs.observe("GetUserEventIDs", time.Now(), nil)
	return qs.engine.GetUserEventIDs(user)
}

func (qs *QueryService) GetUserEventPredictions(ctx context.Context, user common.Address) []core.UserEventPrediction {
	defer qs.observe("GetUserEventPredictions", time.Now(), nil)
	return qs.engine.GetUserEventPredictions(user)
}

func (qs *QueryService) GetUserClaimInfo(ctx context.Context, id uint64, user common.Address) core.ClaimInfo {
	defer qs.observe("GetUserClaimInfo", time.Now(), nil)
	return qs.engine.GetUserClaimInfo(id, user)
}

func (qs *QueryService) ListPendingResolutions(ctx context.Context, resolver common.Address, now int64) []core.EventDetails {
	defer qs.observe("ListPendingResolutions", time.Now(), nil)
	return qs.engine.ListPendingResolutions(resolver, now)
}

// GetUserActivity returns the user's recent stakes, claims and withdrawals,
// newest first. Empty when no activity projection is wired.
func (qs *QueryService) GetUserActivity(ctx context.Context, user common.Address, limit int) []projection.ActivityEntry {
	defer qs.observe("GetUserActivity", time.Now(), nil)
	if qs.activity == nil {
		return []projection.ActivityEntry{}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return qs.activity.QueryByUser(user, limit)
}

// --- Projection-backed listings ---

var errNoDatabase = errors.New("query: no database configured")

// ListEvents pages through projected events by id. status filters when
// non-empty ("open", "resolved", "cancelled").
func (qs *QueryService) ListEvents(ctx context.Context, status string, limit int, afterID *uint64) (items []EventListItem, err error) {
	defer func(start time.Time) { qs.observe("ListEvents", start, err) }(time.Now())
	if qs.db == nil {
		return nil, errNoDatabase
	}

	asOfSeq, err := projection.LoadWatermark(ctx, qs.db)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT market_id, name, outcomes, creator, oracle, deadline, status,
		       winning_outcome, total_staked, paid_out
		FROM projections.markets
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}
	if afterID != nil {
		query += fmt.Sprintf(" AND market_id > $%d", argIdx)
		args = append(args, int64(*afterID))
		argIdx++
	}

	query += " ORDER BY market_id ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it EventListItem
		var id int64
		var outcomes []byte
		var winner sql.NullInt32
		if err := rows.Scan(
			&id, &it.Name, &outcomes, &it.Creator, &it.Oracle, &it.Deadline, &it.Status,
			&winner, &it.TotalStaked, &it.PaidOut,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(outcomes, &it.Outcomes); err != nil {
			return nil, fmt.Errorf("decode outcomes of %d: %w", id, err)
		}
		if winner.Valid {
			w := winner.Int32
			it.WinningOutcome = &w
		}
		it.EventID = uint64(id)
		it.AsOfSequence = asOfSeq
		items = append(items, it)
	}

	return items, rows.Err()
}

// GetJournalHistory returns journal entries touching account, newest first.
func (qs *QueryService) GetJournalHistory(ctx context.Context, account string, limit int, beforeSequence *int64) (entries []JournalHistoryEntry, err error) {
	defer func(start time.Time) { qs.observe("GetJournalHistory", start, err) }(time.Now())
	if qs.db == nil {
		return nil, errNoDatabase
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{account}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the stored hash chain and, when the log has caught
// up with the engine, that journal-derived balances match memory.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("VerifyIntegrity", start, err) }(time.Now())
	if qs.db == nil {
		return nil, errNoDatabase
	}

	report = &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balances, engineSeq := qs.engine.LedgerBalances()
	report.EngineSequence = engineSeq

	var persisted sql.NullInt64
	if err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&persisted); err != nil {
		return nil, err
	}
	report.PersistedThrough = persisted.Int64

	if report.PersistedThrough == engineSeq {
		journal, err := qs.journalBalances(ctx)
		if err != nil {
			return nil, err
		}
		report.BalancesChecked = true
		for _, ab := range balances {
			path := ab.Account.AccountPath()
			if journal[path] != ab.Balance {
				report.Mismatches = append(report.Mismatches, AccountMismatch{
					Account: path, InMemory: ab.Balance, Journal: journal[path],
				})
			}
			delete(journal, path)
		}
		for path, bal := range journal {
			if bal != 0 {
				report.Mismatches = append(report.Mismatches, AccountMismatch{Account: path, Journal: bal})
			}
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.Mismatches) == 0
	return report, nil
}

// journalBalances folds the journal: debits add, credits subtract.
func (qs *QueryService) journalBalances(ctx context.Context) (map[string]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account, SUM(delta) FROM (
			SELECT debit_account AS account, amount AS delta FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account, -amount AS delta FROM event_log.journal
		) moves
		GROUP BY account
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var account string
		var total int64
		if err := rows.Scan(&account, &total); err != nil {
			return nil, err
		}
		out[account] = total
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
