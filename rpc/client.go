package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"bfv-inference/he"
	"bfv-inference/model"
)

// Client calls a remote inference service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target without transport security. Extra options are
// applied after the defaults.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(DefaultMaxMsgSize),
			grpc.MaxCallSendMsgSize(DefaultMaxMsgSize),
		),
	}, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Params(ctx context.Context) (he.Description, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Params", &emptypb.Empty{}, out); err != nil {
		return he.Description{}, fromStatus(err)
	}
	var desc he.Description
	if err := json.Unmarshal(out.GetValue(), &desc); err != nil {
		return he.Description{}, fmt.Errorf("invalid params response: %w", err)
	}
	return desc, nil
}

func (c *Client) Model(ctx context.Context, name string) (model.Info, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Model", wrapperspb.String(name), out); err != nil {
		return model.Info{}, fromStatus(err)
	}
	var info model.Info
	if err := json.Unmarshal(out.GetValue(), &info); err != nil {
		return model.Info{}, fmt.Errorf("invalid model response: %w", err)
	}
	return info, nil
}

func (c *Client) Infer(ctx context.Context, name string, body []byte) ([]byte, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, ModelNameKey, name)
	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/Infer", wrapperspb.Bytes(body), out); err != nil {
		return nil, fromStatus(err)
	}
	return out.GetValue(), nil
}

// remoteError keeps the gRPC status and restores the error kind it was
// mapped from, where the code identifies one.
type remoteError struct {
	st   *status.Status
	kind error
}

func (e *remoteError) Error() string { return e.st.Message() }

func (e *remoteError) Is(target error) bool { return e.kind != nil && target == e.kind }

func (e *remoteError) GRPCStatus() *status.Status { return e.st }

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var kind error
	switch st.Code() {
	case codes.NotFound:
		kind = he.ErrModelNotFound
	case codes.FailedPrecondition:
		kind = he.ErrFeatureCountMismatch
	case codes.Canceled:
		kind = context.Canceled
	case codes.DeadlineExceeded:
		kind = context.DeadlineExceeded
	}
	return &remoteError{st: st, kind: kind}
}
