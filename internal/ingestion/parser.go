package ingestion

import (
	"PredictLedger/internal/command"
	fpmath "PredictLedger/internal/math"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// SubjectPrefix is the NATS subject prefix for inbound commands. The last
// token names the command type, e.g. predict.commands.MakePrediction.
const SubjectPrefix = "predict.commands."

var validate = validator.New(validator.WithRequiredStructEnabled())

// CommandTypeFromSubject extracts the command type token from a subject.
func CommandTypeFromSubject(subject string) (string, error) {
	if !strings.HasPrefix(subject, SubjectPrefix) {
		return "", fmt.Errorf("subject %q outside %s>", subject, SubjectPrefix)
	}
	rest := strings.TrimPrefix(subject, SubjectPrefix)
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "", fmt.Errorf("subject %q has no command type", subject)
	}
	return rest, nil
}

// ParseRawCommand converts an inbound message into a typed command.
// Wire validation only covers shape; business rules belong to the engine.
func ParseRawCommand(raw RawCommand) (command.Command, error) {
	commandType, err := CommandTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(commandType, raw.Data)
}

// ParseCommand decodes the JSON wire form of one command type.
func ParseCommand(commandType string, data []byte) (command.Command, error) {
	t, ok := command.ParseType(commandType)
	if !ok {
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}

	switch t {
	case command.TypeCreateEvent:
		return parseCreateEvent(data)
	case command.TypeCreateEventByOracle:
		return parseCreateEventByOracle(data)
	case command.TypeMakePrediction:
		return parseMakePrediction(data)
	case command.TypeResolveEvent:
		return parseResolveEvent(data)
	case command.TypeCancelEvent:
		var j eventRefJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.CancelEvent{Meta: j.meta(), EventID: *j.EventID}, nil
	case command.TypeClaimPayout:
		var j eventRefJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.ClaimPayout{Meta: j.meta(), EventID: *j.EventID}, nil
	case command.TypeCollectUnclaimed:
		var j eventRefJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.CollectUnclaimed{Meta: j.meta(), EventID: *j.EventID}, nil
	case command.TypeWithdrawPlatformFees:
		var j metaJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.WithdrawPlatformFees{Meta: j.meta()}, nil
	case command.TypeWithdrawCreatorFees:
		var j metaJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.WithdrawCreatorFees{Meta: j.meta()}, nil
	case command.TypeRegisterOracle:
		var j registerOracleJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.RegisterOracle{Meta: j.meta(), Name: j.Name, Oracle: common.HexToAddress(j.Oracle)}, nil
	case command.TypeDeregisterOracle:
		var j deregisterOracleJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.DeregisterOracle{Meta: j.meta(), Name: j.Name}, nil
	case command.TypeTransferOwnership:
		var j transferOwnershipJSON
		if err := decode(commandType, data, &j); err != nil {
			return nil, err
		}
		return &command.TransferOwnership{Meta: j.meta(), NewOwner: common.HexToAddress(j.NewOwner)}, nil
	}
	return nil, fmt.Errorf("unsupported command type: %s", commandType)
}

func decode(commandType string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", commandType, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validate %s: %w", commandType, err)
	}
	return nil
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Amounts are
// decimal coin strings ("1.25"); addresses are 0x-prefixed hex.

type metaJSON struct {
	CommandID string `json:"command_id" validate:"required,max=128"`
	Caller    string `json:"caller" validate:"required,eth_addr"`
	Timestamp int64  `json:"timestamp" validate:"gte=0"` // Unix seconds, replaced by the ledger clock on submit
}

func (j metaJSON) meta() command.Meta {
	return command.Meta{
		CommandID: j.CommandID,
		Call: command.Call{
			Caller:    common.HexToAddress(j.Caller),
			Timestamp: j.Timestamp,
		},
	}
}

type eventRefJSON struct {
	metaJSON
	EventID *uint64 `json:"event_id" validate:"required"`
}

type createEventJSON struct {
	metaJSON
	Name     string   `json:"name" validate:"max=256"`
	Outcomes []string `json:"outcomes" validate:"required,dive,max=128"`
	Duration int64    `json:"duration"`
	Oracle   string   `json:"oracle" validate:"omitempty,eth_addr"`
}

func parseCreateEvent(data []byte) (*command.CreateEvent, error) {
	var j createEventJSON
	if err := decode("CreateEvent", data, &j); err != nil {
		return nil, err
	}
	var oracle common.Address
	if j.Oracle != "" {
		oracle = common.HexToAddress(j.Oracle)
	}
	return &command.CreateEvent{
		Meta:     j.meta(),
		Name:     j.Name,
		Outcomes: j.Outcomes,
		Duration: j.Duration,
		Oracle:   oracle,
	}, nil
}

func parseCreateEventByOracle(data []byte) (*command.CreateEventByOracle, error) {
	var j createEventJSON
	if err := decode("CreateEventByOracle", data, &j); err != nil {
		return nil, err
	}
	if j.Oracle != "" {
		return nil, fmt.Errorf("validate CreateEventByOracle: oracle is implied by the caller")
	}
	return &command.CreateEventByOracle{
		Meta:     j.meta(),
		Name:     j.Name,
		Outcomes: j.Outcomes,
		Duration: j.Duration,
	}, nil
}

type makePredictionJSON struct {
	metaJSON
	EventID      *uint64 `json:"event_id" validate:"required"`
	OutcomeIndex *uint32 `json:"outcome_index" validate:"required"`
	Amount       string  `json:"amount" validate:"required,numeric"`
}

func parseMakePrediction(data []byte) (*command.MakePrediction, error) {
	var j makePredictionJSON
	if err := decode("MakePrediction", data, &j); err != nil {
		return nil, err
	}
	amount, err := fpmath.ParseAmount(j.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse MakePrediction: %w", err)
	}
	return &command.MakePrediction{
		Meta:         j.meta(),
		EventID:      *j.EventID,
		OutcomeIndex: *j.OutcomeIndex,
		Amount:       amount,
	}, nil
}

type resolveEventJSON struct {
	metaJSON
	EventID        *uint64 `json:"event_id" validate:"required"`
	WinningOutcome *uint32 `json:"winning_outcome" validate:"required"`
}

func parseResolveEvent(data []byte) (*command.ResolveEvent, error) {
	var j resolveEventJSON
	if err := decode("ResolveEvent", data, &j); err != nil {
		return nil, err
	}
	return &command.ResolveEvent{
		Meta:           j.meta(),
		EventID:        *j.EventID,
		WinningOutcome: *j.WinningOutcome,
	}, nil
}

type registerOracleJSON struct {
	metaJSON
	Name   string `json:"name" validate:"max=128"`
	Oracle string `json:"oracle" validate:"required,eth_addr"`
}

type deregisterOracleJSON struct {
	metaJSON
	Name string `json:"name" validate:"max=128"`
}

type transferOwnershipJSON struct {
	metaJSON
	NewOwner string `json:"new_owner" validate:"required,eth_addr"`
}
