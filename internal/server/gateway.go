package server

import (
	"PredictLedger/internal/errs"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

const maxCommandBody = 1 << 20

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// httpRoutes maps REST paths onto the same methods the gRPC service uses.
func httpRoutes(s *LedgerService) []route {
	return []route{
		{"POST", "/v1/commands/{command_type}", submitHandler(s)},

		{"GET", "/v1/events", handle(s, (*LedgerService).listEvents, bindListEvents)},
		{"GET", "/v1/events/{event_id}", handle(s, (*LedgerService).getEventDetails, bindEvent)},
		{"GET", "/v1/events/{event_id}/resolution", handle(s, (*LedgerService).getEventResolutionInfo, bindEvent)},
		{"GET", "/v1/events/{event_id}/claims/{user}", handle(s, (*LedgerService).getUserClaimInfo, bindEvent)},
		{"GET", "/v1/events/{event_id}/pools/{outcome}", handle(s, (*LedgerService).getPoolAmount, bindEvent)},
		{"GET", "/v1/events/{event_id}/pools/{outcome}/participants", handle(s, (*LedgerService).getPoolParticipants, bindEvent)},
		{"GET", "/v1/events/{event_id}/pools/{outcome}/stakes/{user}", handle(s, (*LedgerService).getUserPrediction, bindEvent)},
		{"GET", "/v1/events/{event_id}/pools/{outcome}/payouts/{user}", handle(s, (*LedgerService).calculatePotentialPayout, bindEvent)},
		{"GET", "/v1/next-event-id", handle(s, (*LedgerService).nextEventID, bindEmpty)},

		{"GET", "/v1/fees/platform", handle(s, (*LedgerService).getPlatformFeeBalance, bindEmpty)},
		{"GET", "/v1/fees/creators/{address}", handle(s, (*LedgerService).getCreatorFeeBalance, bindAccount)},

		{"GET", "/v1/oracles", handle(s, (*LedgerService).listOracles, bindEmpty)},
		{"GET", "/v1/oracles/by-name/{name}", handle(s, (*LedgerService).getOracleAddress, bindAccount)},
		{"GET", "/v1/oracles/by-address/{address}", handle(s, (*LedgerService).isAuthorizedOracle, bindAccount)},

		{"GET", "/v1/users/{address}/events", handle(s, (*LedgerService).getUserEventIDs, bindAccount)},
		{"GET", "/v1/users/{address}/predictions", handle(s, (*LedgerService).getUserEventPredictions, bindAccount)},
		{"GET", "/v1/users/{address}/activity", handle(s, (*LedgerService).getUserActivity, bindAccount)},
		{"GET", "/v1/resolvers/{address}/pending", handle(s, (*LedgerService).listPendingResolutions, bindAccount)},

		{"GET", "/v1/journal", handle(s, (*LedgerService).getJournalHistory, bindJournal)},

		{"POST", "/v1/admin/snapshot", handle(s, (*LedgerService).takeSnapshot, bindEmpty)},
		{"POST", "/v1/admin/rebuild-projections", handle(s, (*LedgerService).rebuildProjections, bindEmpty)},
		{"GET", "/v1/admin/event-log", handle(s, (*LedgerService).getEventLogInfo, bindEmpty)},
		{"GET", "/v1/admin/integrity", handle(s, (*LedgerService).verifyIntegrity, bindEmpty)},
	}
}

func handle[Req any](
	s *LedgerService,
	fn func(*LedgerService, context.Context, *Req) (any, error),
	bind func(*http.Request, map[string]string, *Req) error,
) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req := new(Req)
		if err := bind(r, params, req); err != nil {
			writeError(w, errs.ErrMalformed.Wrap(err))
			return
		}
		resp, err := fn(s, r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func submitHandler(s *LedgerService) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			writeError(w, errs.ErrMalformed.Wrap(err))
			return
		}
		resp, err := s.Submit(r.Context(), params["command_type"], body)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// --- Binders ---

func bindEmpty(*http.Request, map[string]string, *Empty) error { return nil }

func bindEvent(r *http.Request, params map[string]string, req *EventQuery) error {
	id, err := strconv.ParseUint(params["event_id"], 10, 64)
	if err != nil {
		return fmt.Errorf("event_id: %w", err)
	}
	req.EventID = id
	if raw, ok := params["outcome"]; ok {
		outcome, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return fmt.Errorf("outcome: %w", err)
		}
		req.Outcome = uint32(outcome)
	}
	req.User = params["user"]
	req.Now, err = nowParam(r)
	return err
}

func bindAccount(r *http.Request, params map[string]string, req *AccountQuery) error {
	req.Address = params["address"]
	req.Name = params["name"]
	var err error
	if req.Now, err = nowParam(r); err != nil {
		return err
	}
	req.Limit, err = intParam(r, "limit")
	return err
}

func bindListEvents(r *http.Request, _ map[string]string, req *ListEventsRequest) error {
	q := r.URL.Query()
	req.Status = q.Get("status")
	var err error
	if req.Limit, err = intParam(r, "limit"); err != nil {
		return err
	}
	if raw := q.Get("after_id"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("after_id: %w", err)
		}
		req.AfterID = &after
	}
	return nil
}

func bindJournal(r *http.Request, _ map[string]string, req *JournalHistoryRequest) error {
	q := r.URL.Query()
	req.Account = q.Get("account")
	var err error
	if req.Limit, err = intParam(r, "limit"); err != nil {
		return err
	}
	if raw := q.Get("before_sequence"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("before_sequence: %w", err)
		}
		req.BeforeSequence = &before
	}
	return nil
}

// nowParam reads ?now= (Unix seconds), defaulting to the wall clock.
func nowParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("now")
	if raw == "" {
		return time.Now().Unix(), nil
	}
	now, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("now: %w", err)
	}
	return now, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// --- Responses ---

// ErrorBody is the JSON body of every non-2xx gateway response.
type ErrorBody struct {
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, runtime.HTTPStatusFromCode(kind.GRPCCode()), ErrorBody{
		Code:    string(errs.CodeOf(err)),
		Kind:    kind.String(),
		Message: err.Error(),
	})
}
