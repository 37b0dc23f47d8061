package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"bfv-inference/envelope"
	"bfv-inference/he"
	"bfv-inference/he/hetest"
	"bfv-inference/model"
	"bfv-inference/service"
	"bfv-inference/session"
)

func startServer(t *testing.T, b *hetest.Backend) *Client {
	t.Helper()
	m, err := model.New("CreditScore", [][]float64{{0.5, -1.5, 2}}, 1000)
	require.NoError(t, err)
	reg, err := model.NewRegistry(m)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, lis, service.New(b, reg), 0) }()

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("gRPC server did not stop")
		}
	})
	return c
}

func TestParamsAndModel(t *testing.T) {
	c := startServer(t, hetest.New())
	ctx := context.Background()

	desc, err := c.Params(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mock", desc.ParametersID)

	info, err := c.Model(ctx, "CreditScore")
	require.NoError(t, err)
	assert.Equal(t, 3, info.Features)
	assert.Equal(t, 1, info.Classes)

	_, err = c.Model(ctx, "Missing")
	assert.ErrorIs(t, err, he.ErrModelNotFound)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Model(ctx, "no spaces")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestInfer(t *testing.T) {
	b := hetest.New()
	c := startServer(t, b)
	ctx := context.Background()

	sess, err := session.NewManager(b).CreateKeys()
	require.NoError(t, err)
	batch, err := sess.EncryptBatch([][]float64{{2, 1, 1}, {0, 0, 0}}, 1000)
	require.NoError(t, err)
	body, err := envelope.Pack(b, batch)
	require.NoError(t, err)

	out, err := c.Infer(ctx, "CreditScore", body)
	require.NoError(t, err)

	rows, err := envelope.Unpack(b, out)
	require.NoError(t, err)
	raw, err := sess.DecryptResult(rows)
	require.NoError(t, err)
	// 500*2000 - 1500*1000 + 2000*1000
	assert.Equal(t, [][]int64{{1_500_000}, {0}}, raw)
}

func TestInferErrors(t *testing.T) {
	b := hetest.New()
	c := startServer(t, b)
	ctx := context.Background()

	sess, err := session.NewManager(b).CreateKeys()
	require.NoError(t, err)
	batch, err := sess.EncryptBatch([][]float64{{1, 2}}, 1000)
	require.NoError(t, err)
	short, err := envelope.Pack(b, batch)
	require.NoError(t, err)

	_, err = c.Infer(ctx, "CreditScore", short)
	assert.ErrorIs(t, err, he.ErrFeatureCountMismatch)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = c.Infer(ctx, "CreditScore", []byte{1, 2, 3})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Infer(ctx, "", short)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Infer(ctx, "Unknown", short)
	assert.ErrorIs(t, err, he.ErrModelNotFound)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("x: %w", he.ErrModelNotFound), codes.NotFound},
		{&he.FeatureCountMismatchError{Sample: 0, Actual: 1, Expected: 2}, codes.FailedPrecondition},
		{he.ErrInvalidModelName, codes.InvalidArgument},
		{&he.CorruptStreamError{Entry: 2, Reason: "short"}, codes.InvalidArgument},
		{he.ErrIncompatibleParameters, codes.InvalidArgument},
		{fmt.Errorf("inference cancelled: %w", context.Canceled), codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Code(tc.err), tc.err.Error())
	}
}
