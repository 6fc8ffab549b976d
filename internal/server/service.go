package server

import (
	"PredictLedger/internal/command"
	"PredictLedger/internal/core"
	"PredictLedger/internal/errs"
	"PredictLedger/internal/event"
	"PredictLedger/internal/ingestion"
	fpmath "PredictLedger/internal/math"
	"PredictLedger/internal/persistence"
	"PredictLedger/internal/projection"
	"PredictLedger/internal/query"
	"PredictLedger/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "predictledger.v1.Ledger"

// --- Requests ---

// EventQuery addresses one event, optionally one outcome pool and one user.
type EventQuery struct {
	EventID uint64 `json:"event_id"`
	Outcome uint32 `json:"outcome"`
	User    string `json:"user,omitempty"`
	Now     int64  `json:"now,omitempty"` // Unix seconds
}

// AccountQuery addresses one principal or oracle name.
type AccountQuery struct {
	Address string `json:"address,omitempty"`
	Name    string `json:"name,omitempty"`
	Now     int64  `json:"now,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type ListEventsRequest struct {
	Status  string  `json:"status,omitempty"`
	Limit   int     `json:"limit,omitempty"`
	AfterID *uint64 `json:"after_id,omitempty"`
}

type JournalHistoryRequest struct {
	Account        string `json:"account"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type Empty struct{}

// --- Responses ---

// CommandResponse describes an applied (or already applied) command.
type CommandResponse struct {
	Sequence      int64           `json:"sequence"`
	StateHash     string          `json:"state_hash,omitempty"`
	Duplicate     bool            `json:"duplicate"`
	EventID       *uint64         `json:"event_id,omitempty"`
	Amount        int64           `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
	Notifications json.RawMessage `json:"notifications,omitempty"`
}

type AmountResponse struct {
	Amount  int64  `json:"amount"`
	Display string `json:"display"`
}

type AddressResponse struct {
	Address common.Address `json:"address"`
}

type AddressesResponse struct {
	Addresses []common.Address `json:"addresses"`
}

type BoolResponse struct {
	Value bool `json:"value"`
}

type EventIDsResponse struct {
	EventIDs []uint64 `json:"event_ids"`
}

type NextEventIDResponse struct {
	EventID uint64 `json:"event_id"`
}

type OraclesResponse struct {
	Oracles []state.OracleRecord `json:"oracles"`
}

type PredictionsResponse struct {
	Predictions []core.UserEventPrediction `json:"predictions"`
}

type PendingResponse struct {
	Events []core.EventDetails `json:"events"`
}

type ActivityResponse struct {
	Entries []projection.ActivityEntry `json:"entries"`
}

type EventsResponse struct {
	Events []query.EventListItem `json:"events"`
}

type JournalHistoryResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

type EventLogInfoResponse struct {
	PersistedSequence int64  `json:"persisted_sequence"`
	EngineSequence    int64  `json:"engine_sequence"`
	StateHash         string `json:"state_hash"`
}

type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

// SnapshotFunc takes a snapshot and returns the sequence it covers.
type SnapshotFunc func(ctx context.Context) (int64, error)

// LedgerServer is the handler type of the ledger service descriptor.
type LedgerServer interface {
	Submit(ctx context.Context, commandType string, data json.RawMessage) (*CommandResponse, error)
}

// LedgerService implements every ledger RPC. Mutations go through the
// Processor; reads go through the QueryService.
type LedgerService struct {
	processor *core.Processor
	queries   *query.QueryService
	db        *sql.DB
	snapshot  SnapshotFunc
	logger    zerolog.Logger
}

func NewLedgerService(processor *core.Processor, queries *query.QueryService, db *sql.DB, snapshot SnapshotFunc, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		processor: processor,
		queries:   queries,
		db:        db,
		snapshot:  snapshot,
		logger:    logger,
	}
}

var errNoSnapshotter = errors.New("snapshots are not configured")

func malformed(format string, args ...interface{}) error {
	return errs.ErrMalformed.Wrap(fmt.Errorf(format, args...))
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, malformed("%s: %q is not an address", field, s)
	}
	return common.HexToAddress(s), nil
}

// Submit parses the wire form of commandType and applies it.
func (s *LedgerService) Submit(ctx context.Context, commandType string, data json.RawMessage) (*CommandResponse, error) {
	cmd, err := ingestion.ParseCommand(commandType, data)
	if err != nil {
		return nil, errs.ErrMalformed.Wrap(err)
	}

	res, err := s.processor.Submit(ctx, cmd)
	if err != nil {
		return nil, err
	}

	resp := &CommandResponse{
		Sequence:      res.Sequence,
		Duplicate:     res.Duplicate,
		Amount:        res.Amount,
		AmountDisplay: fpmath.FormatAmount(res.Amount),
	}
	if res.Duplicate {
		return resp, nil
	}
	resp.StateHash = hex.EncodeToString(res.StateHash[:])

	switch cmd.CommandType() {
	case command.TypeCreateEvent, command.TypeCreateEventByOracle:
		id := res.EventID
		resp.EventID = &id
	default:
		resp.EventID = cmd.MarketID()
	}

	if len(res.Notifications) > 0 {
		encoded, err := event.MarshalNotifications(res.Notifications)
		if err != nil {
			return nil, fmt.Errorf("encode notifications: %w", err)
		}
		resp.Notifications = encoded
	}
	return resp, nil
}

// --- Event reads ---

func (s *LedgerService) getEventDetails(ctx context.Context, req *EventQuery) (any, error) {
	return s.queries.GetEventDetails(ctx, req.EventID)
}

func (s *LedgerService) getPoolAmount(ctx context.Context, req *EventQuery) (any, error) {
	amount := s.queries.GetPoolAmount(ctx, req.EventID, req.Outcome)
	return &AmountResponse{Amount: amount, Display: fpmath.FormatAmount(amount)}, nil
}

func (s *LedgerService) getUserPrediction(ctx context.Context, req *EventQuery) (any, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	amount := s.queries.GetUserPrediction(ctx, req.EventID, req.Outcome, user)
	return &AmountResponse{Amount: amount, Display: fpmath.FormatAmount(amount)}, nil
}

func (s *LedgerService) getPoolParticipants(ctx context.Context, req *EventQuery) (any, error) {
	return &AddressesResponse{Addresses: s.queries.GetPoolParticipants(ctx, req.EventID, req.Outcome)}, nil
}

func (s *LedgerService) calculatePotentialPayout(ctx context.Context, req *EventQuery) (any, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	amount := s.queries.CalculatePotentialPayout(ctx, req.EventID, req.Outcome, user)
	return &AmountResponse{Amount: amount, Display: fpmath.FormatAmount(amount)}, nil
}

func (s *LedgerService) getEventResolutionInfo(ctx context.Context, req *EventQuery) (any, error) {
	return s.queries.GetEventResolutionInfo(ctx, req.EventID, req.Now)
}

func (s *LedgerService) getUserClaimInfo(ctx context.Context, req *EventQuery) (any, error) {
	user, err := parseAddress("user", req.User)
	if err != nil {
		return nil, err
	}
	return s.queries.GetUserClaimInfo(ctx, req.EventID, user), nil
}

func (s *LedgerService) nextEventID(ctx context.Context, _ *Empty) (any, error) {
	return &NextEventIDResponse{EventID: s.queries.NextEventID(ctx)}, nil
}

func (s *LedgerService) listEvents(ctx context.Context, req *ListEventsRequest) (any, error) {
	events, err := s.queries.ListEvents(ctx, req.Status, req.Limit, req.AfterID)
	if err != nil {
		return nil, err
	}
	return &EventsResponse{Events: events}, nil
}

// --- Fees ---

func (s *LedgerService) getPlatformFeeBalance(ctx context.Context, _ *Empty) (any, error) {
	return s.queries.GetPlatformFeeBalance(ctx), nil
}

func (s *LedgerService) getCreatorFeeBalance(ctx context.Context, req *AccountQuery) (any, error) {
	creator, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	return s.queries.GetCreatorFeeBalance(ctx, creator), nil
}

// --- Oracles ---

func (s *LedgerService) isAuthorizedOracle(ctx context.Context, req *AccountQuery) (any, error) {
	oracle, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	return &BoolResponse{Value: s.queries.IsAuthorizedOracle(ctx, oracle)}, nil
}

func (s *LedgerService) getOracleAddress(ctx context.Context, req *AccountQuery) (any, error) {
	return &AddressResponse{Address: s.queries.GetOracleAddress(ctx, req.Name)}, nil
}

func (s *LedgerService) listOracles(ctx context.Context, _ *Empty) (any, error) {
	return &OraclesResponse{Oracles: s.queries.ListOracles(ctx)}, nil
}

// --- Users ---

func (s *LedgerService) getUserEventIDs(ctx context.Context, req *AccountQuery) (any, error) {
	user, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	return &EventIDsResponse{EventIDs: s.queries.GetUserEventIDs(ctx, user)}, nil
}

func (s *LedgerService) getUserEventPredictions(ctx context.Context, req *AccountQuery) (any, error) {
	user, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	return &PredictionsResponse{Predictions: s.queries.GetUserEventPredictions(ctx, user)}, nil
}

func (s *LedgerService) listPendingResolutions(ctx context.Context, req *AccountQuery) (any, error) {
	resolver, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	return &PendingResponse{Events: s.queries.ListPendingResolutions(ctx, resolver, req.Now)}, nil
}

func (s *LedgerService) getUserActivity(ctx context.Context, req *AccountQuery) (any, error) {
	user, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	return &ActivityResponse{Entries: s.queries.GetUserActivity(ctx, user, req.Limit)}, nil
}

func (s *LedgerService) getJournalHistory(ctx context.Context, req *JournalHistoryRequest) (any, error) {
	if req.Account == "" {
		return nil, malformed("account is required")
	}
	entries, err := s.queries.GetJournalHistory(ctx, req.Account, req.Limit, req.BeforeSequence)
	if err != nil {
		return nil, err
	}
	return &JournalHistoryResponse{Entries: entries}, nil
}

// --- Admin ---

func (s *LedgerService) takeSnapshot(ctx context.Context, _ *Empty) (any, error) {
	if s.snapshot == nil {
		return nil, errNoSnapshotter
	}
	seq, err := s.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &SnapshotResponse{Sequence: seq}, nil
}

func (s *LedgerService) rebuildProjections(ctx context.Context, _ *Empty) (any, error) {
	if s.db == nil {
		return nil, errors.New("rebuild: no database configured")
	}
	if err := projection.RebuildProjections(ctx, s.db, 500, s.logger); err != nil {
		return nil, fmt.Errorf("rebuild failed: %w", err)
	}
	return &Empty{}, nil
}

func (s *LedgerService) getEventLogInfo(ctx context.Context, _ *Empty) (any, error) {
	engine := s.processor.Engine()
	hash := engine.StateHash()
	info := &EventLogInfoResponse{
		EngineSequence: engine.Sequence() - 1,
		StateHash:      hex.EncodeToString(hash[:]),
	}
	if s.db != nil {
		seq, err := persistence.NewEventLogWriter(s.db).GetLatestSequence(ctx)
		if err != nil {
			return nil, fmt.Errorf("get latest sequence: %w", err)
		}
		info.PersistedSequence = seq
	}
	return info, nil
}

func (s *LedgerService) verifyIntegrity(ctx context.Context, _ *Empty) (any, error) {
	return s.queries.VerifyIntegrity(ctx)
}
