package main

import (
	"PredictLedger/internal/errs"
	"PredictLedger/internal/server"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	addr      string
	caller    string
	timeout   time.Duration
	commandID string
)

var rootCmd = &cobra.Command{
	Use:          "ledgerctl",
	Short:        "Command-line client for the prediction ledger",
	SilenceUsage: true,
}

// --- Commands ---

var submitCmd = &cobra.Command{
	Use:   "submit <CommandType> <file|->",
	Short: "Submit a raw JSON command body",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var r io.Reader = os.Stdin
		if args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		return submit(args[0], json.RawMessage(data))
	},
}

var (
	eventName     string
	eventOutcomes []string
	eventDuration int64
	eventOracle   string
	byOracle      bool
)

var createEventCmd = &cobra.Command{
	Use:   "create-event",
	Short: "Create a prediction event",
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]interface{}{
			"name":     eventName,
			"outcomes": eventOutcomes,
			"duration": eventDuration,
		}
		if byOracle {
			return submitFields("CreateEventByOracle", fields)
		}
		if eventOracle != "" {
			fields["oracle"] = eventOracle
		}
		return submitFields("CreateEvent", fields)
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict <event-id> <outcome> <amount>",
	Short: "Stake an amount (in coins, e.g. 1.5) on an outcome",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, outcome, err := eventAndOutcome(args[0], args[1])
		if err != nil {
			return err
		}
		return submitFields("MakePrediction", map[string]interface{}{
			"event_id": id, "outcome_index": outcome, "amount": args[2],
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <event-id> <winning-outcome>",
	Short: "Resolve an event",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, outcome, err := eventAndOutcome(args[0], args[1])
		if err != nil {
			return err
		}
		return submitFields("ResolveEvent", map[string]interface{}{
			"event_id": id, "winning_outcome": outcome,
		})
	},
}

// eventCommand builds a command that only names an event.
func eventCommand(use, short, commandType string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <event-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("event id: %w", err)
			}
			return submitFields(commandType, map[string]interface{}{"event_id": id})
		},
	}
}

var withdrawCmd = &cobra.Command{
	Use:       "withdraw <platform|creator>",
	Short:     "Withdraw accrued fees",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"platform", "creator"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "platform":
			return submitFields("WithdrawPlatformFees", nil)
		case "creator":
			return submitFields("WithdrawCreatorFees", nil)
		}
		return fmt.Errorf("unknown fee kind %q", args[0])
	},
}

var oracleCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Manage the oracle registry",
}

var oracleRegisterCmd = &cobra.Command{
	Use:   "register <name> <address>",
	Short: "Authorize an oracle under a name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitFields("RegisterOracle", map[string]interface{}{"name": args[0], "oracle": args[1]})
	},
}

var oracleDeregisterCmd = &cobra.Command{
	Use:   "deregister <name>",
	Short: "Revoke an oracle by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitFields("DeregisterOracle", map[string]interface{}{"name": args[0]})
	},
}

var oracleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered oracles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint("ListOracles", server.Empty{}, &server.OraclesResponse{})
	},
}

var transferOwnershipCmd = &cobra.Command{
	Use:   "transfer-ownership <new-owner>",
	Short: "Hand the owner role to another address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitFields("TransferOwnership", map[string]interface{}{"new_owner": args[0]})
	},
}

// --- Reads ---

var eventCmd = &cobra.Command{
	Use:   "event <event-id>",
	Short: "Show an event with its pools",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		var resp json.RawMessage
		return callAndPrint("GetEventDetails", server.EventQuery{EventID: id}, &resp)
	},
}

var (
	listStatus string
	listLimit  int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List projected events",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAndPrint("ListEvents", server.ListEventsRequest{Status: listStatus, Limit: listLimit}, &server.EventsResponse{})
	},
}

var feesCmd = &cobra.Command{
	Use:   "fees <platform|creator> [address]",
	Short: "Show a fee balance",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp json.RawMessage
		if args[0] == "platform" {
			return callAndPrint("GetPlatformFeeBalance", server.Empty{}, &resp)
		}
		who := caller
		if len(args) == 2 {
			who = args[1]
		}
		return callAndPrint("GetCreatorFeeBalance", server.AccountQuery{Address: who}, &resp)
	},
}

var userCmd = &cobra.Command{
	Use:   "user <address>",
	Short: "Show a user's stakes and recent activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := callAndPrint("GetUserEventPredictions", server.AccountQuery{Address: args[0]}, &server.PredictionsResponse{}); err != nil {
			return err
		}
		return callAndPrint("GetUserActivity", server.AccountQuery{Address: args[0], Limit: listLimit}, &server.ActivityResponse{})
	},
}

// --- Admin ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operational commands",
}

func adminCommand(use, short, method string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp json.RawMessage
			return callAndPrint(method, server.Empty{}, &resp)
		},
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", envOr("PREDICT_GRPC_ADDR", "localhost:9090"), "ledger gRPC address")
	rootCmd.PersistentFlags().StringVar(&caller, "caller", os.Getenv("PREDICT_CALLER"), "caller address for commands")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVar(&commandID, "command-id", "", "command id (default: random UUID)")

	createEventCmd.Flags().StringVar(&eventName, "name", "", "event name")
	createEventCmd.Flags().StringSliceVar(&eventOutcomes, "outcomes", nil, "comma-separated outcome labels")
	createEventCmd.Flags().Int64Var(&eventDuration, "duration", 0, "prediction window in seconds")
	createEventCmd.Flags().StringVar(&eventOracle, "oracle", "", "resolving oracle (default: creator resolves)")
	createEventCmd.Flags().BoolVar(&byOracle, "by-oracle", false, "create as an authorized oracle that resolves it")

	eventsCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (open, resolved, cancelled)")
	eventsCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of results")
	userCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum activity entries")

	oracleCmd.AddCommand(oracleRegisterCmd, oracleDeregisterCmd, oracleListCmd)
	adminCmd.AddCommand(
		adminCommand("snapshot", "Take a snapshot now", "TakeSnapshot"),
		adminCommand("rebuild-projections", "Rebuild projections from the event log", "RebuildProjections"),
		adminCommand("log-info", "Show event log and engine positions", "GetEventLogInfo"),
		adminCommand("verify", "Verify the hash chain and ledger balances", "VerifyIntegrity"),
	)

	rootCmd.AddCommand(
		submitCmd, createEventCmd, predictCmd, resolveCmd,
		eventCommand("cancel", "Cancel an event", "CancelEvent"),
		eventCommand("claim", "Claim a payout or refund", "ClaimPayout"),
		eventCommand("collect", "Sweep unclaimed winnings", "CollectUnclaimedWinnings"),
		withdrawCmd, oracleCmd, transferOwnershipCmd,
		eventCmd, eventsCmd, feesCmd, userCmd, adminCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var de *errs.Error
		if errors.As(err, &de) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", de.Code, de.Message)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// --- Helpers ---

func withClient(fn func(ctx context.Context, c *server.Client) error) error {
	c, err := server.Dial(addr)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func callAndPrint(method string, req, resp any) error {
	return withClient(func(ctx context.Context, c *server.Client) error {
		if err := c.Call(ctx, method, req, resp); err != nil {
			return err
		}
		return printJSON(resp)
	})
}

func submit(commandType string, body json.RawMessage) error {
	return withClient(func(ctx context.Context, c *server.Client) error {
		resp, err := c.Submit(ctx, commandType, body)
		if err != nil {
			return err
		}
		return printJSON(resp)
	})
}

// submitFields adds command id, caller and timestamp to fields and submits.
func submitFields(commandType string, fields map[string]interface{}) error {
	if !common.IsHexAddress(caller) {
		return fmt.Errorf("--caller must be a 0x address")
	}
	body := map[string]interface{}{}
	for k, v := range fields {
		body[k] = v
	}
	id := commandID
	if id == "" {
		id = uuid.NewString()
	}
	body["command_id"] = id
	body["caller"] = caller
	body["timestamp"] = time.Now().Unix()

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return submit(commandType, data)
}

func eventAndOutcome(idArg, outcomeArg string) (uint64, uint32, error) {
	id, err := strconv.ParseUint(idArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("event id: %w", err)
	}
	outcome, err := strconv.ParseUint(outcomeArg, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("outcome: %w", err)
	}
	return id, uint32(outcome), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
