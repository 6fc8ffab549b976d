package server

import (
	"PredictLedger/internal/errs"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the ledger service over gRPC with the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target without transport security. Extra options are
// appended, e.g. a context dialer in tests.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method and decodes the response into resp. Domain failures
// come back as *errs.Error so callers can match them with errors.Is.
func (c *Client) Call(ctx context.Context, method string, req, resp any) error {
	err := c.conn.Invoke(ctx, FullMethod(method), req, resp)
	if err == nil {
		return nil
	}
	if de, ok := errs.FromStatus(err); ok {
		return de
	}
	return err
}

// Submit sends one command in its wire form, e.g. the body published on
// predict.commands.<commandType>.
func (c *Client) Submit(ctx context.Context, commandType string, body json.RawMessage) (*CommandResponse, error) {
	var resp CommandResponse
	if err := c.Call(ctx, commandType, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
