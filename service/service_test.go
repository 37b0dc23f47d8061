package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfv-inference/envelope"
	"bfv-inference/he"
	"bfv-inference/he/hetest"
	"bfv-inference/inference"
	"bfv-inference/model"
	"bfv-inference/session"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *hetest.Backend) {
	t.Helper()
	b := hetest.New()
	fraud, err := model.New("FinancialFraud", [][]float64{{1.0, 2.0}}, 1000)
	require.NoError(t, err)
	grade, err := model.New("AcademicGrade", [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}, 100)
	require.NoError(t, err)
	reg, err := model.NewRegistry(fraud, grade)
	require.NoError(t, err)
	return New(b, reg, opts...), b
}

func TestInfer(t *testing.T) {
	svc, b := newTestService(t, WithEngine(nil))
	sess, err := session.NewManager(b).CreateKeys()
	require.NoError(t, err)

	batch, err := sess.EncryptBatch([][]float64{{3, 4}, {1, -1}}, 1000)
	require.NoError(t, err)
	body, err := envelope.Pack(b, batch)
	require.NoError(t, err)

	out, err := svc.Infer(context.Background(), "FinancialFraud", body)
	require.NoError(t, err)

	rows, err := envelope.Unpack(b, out)
	require.NoError(t, err)
	raw, err := sess.DecryptResult(rows)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{11_000_000}, {-1_000_000}}, raw)
}

func TestInferErrors(t *testing.T) {
	svc, b := newTestService(t)
	sess, err := session.NewManager(b).CreateKeys()
	require.NoError(t, err)

	batch, err := sess.EncryptBatch([][]float64{{3, 4, 5}}, 1000)
	require.NoError(t, err)
	wrongShape, err := envelope.Pack(b, batch)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Infer(ctx, "Financial-Fraud", wrongShape)
	assert.ErrorIs(t, err, he.ErrInvalidModelName)
	_, err = svc.Infer(ctx, "Unknown", wrongShape)
	assert.ErrorIs(t, err, he.ErrModelNotFound)
	_, err = svc.Infer(ctx, "FinancialFraud", []byte{1, 2})
	assert.ErrorIs(t, err, he.ErrCorruptStream)
	_, err = svc.Infer(ctx, "FinancialFraud", wrongShape)
	assert.ErrorIs(t, err, he.ErrFeatureCountMismatch)

	// The three-feature model accepts the same body.
	_, err = svc.Infer(ctx, "AcademicGrade", wrongShape)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), b.Mults.Load())
}

func TestInferWaitsForSlot(t *testing.T) {
	svc, b := newTestService(t, WithMaxConcurrent(1),
		WithEngine(inference.NewEngine(hetest.New(), inference.WithWorkers(1))))
	body, err := envelope.Pack(b, nil)
	require.NoError(t, err)

	svc.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = svc.Infer(ctx, "FinancialFraud", body)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	<-svc.slots
	out, err := svc.Infer(context.Background(), "FinancialFraud", body)
	require.NoError(t, err)
	assert.Len(t, out, envelope.TrailerSize)
}

func TestModels(t *testing.T) {
	svc, _ := newTestService(t)

	infos, err := svc.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "AcademicGrade", infos[0].Name)
	assert.Equal(t, 3, infos[0].Classes)
	assert.Equal(t, int64(100), infos[0].Precision)

	_, err = svc.Model(context.Background(), "Nope")
	assert.ErrorIs(t, err, he.ErrModelNotFound)

	assert.Equal(t, "mock", svc.Params().ParametersID)
}
