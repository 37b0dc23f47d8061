package client

import (
	"context"
	"math"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfv-inference/he"
	"bfv-inference/he/hetest"
	"bfv-inference/model"
	"bfv-inference/rpc"
	"bfv-inference/server"
	"bfv-inference/service"
	"bfv-inference/session"
)

var (
	_ Transport = (*HTTP)(nil)
	_ Transport = (*rpc.Client)(nil)
)

func newServer(t *testing.T, b *hetest.Backend, models ...*model.Model) *HTTP {
	t.Helper()
	reg, err := model.NewRegistry(models...)
	require.NoError(t, err)
	srv := httptest.NewServer(server.NewHandler(service.New(b, reg), 0))
	t.Cleanup(srv.Close)
	return NewHTTP(srv.URL+"/", nil)
}

func mustModel(t *testing.T, name string, weights [][]float64) *model.Model {
	t.Helper()
	m, err := model.New(name, weights, 1000)
	require.NoError(t, err)
	return m
}

func newSession(t *testing.T, b he.Backend) *session.Session {
	t.Helper()
	sess, err := session.NewManager(b).CreateKeys()
	require.NoError(t, err)
	return sess
}

func TestPredictBinary(t *testing.T) {
	b := hetest.New()
	c := newServer(t, b, mustModel(t, "Fraud", [][]float64{{1, 2}}))

	preds, err := Predict(context.Background(), newSession(t, b), c, "Fraud",
		[][]float64{{3, 4}, {-1, -1}}, Options{})
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, []int64{11_000_000}, preds[0].Raw)
	assert.Equal(t, []int64{11}, preds[0].Sums)
	assert.InDelta(t, 11.0, preds[0].Logits[0], 1e-9)
	assert.Greater(t, preds[0].Probabilities[0], 0.99)
	assert.Equal(t, 1, preds[0].Class)

	assert.Equal(t, []int64{-3}, preds[1].Sums)
	assert.Less(t, preds[1].Probabilities[0], 0.05)
	assert.Equal(t, 0, preds[1].Class)
}

func TestPredictMultiClass(t *testing.T) {
	b := hetest.New()
	c := newServer(t, b, mustModel(t, "Iris", [][]float64{{1, 0}, {0, 1}, {0, 0}}))

	preds, err := Predict(context.Background(), newSession(t, b), c, "Iris",
		[][]float64{{2, 1}, {0, 3}}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 1, 0}, preds[0].Sums)
	assert.Equal(t, 0, preds[0].Class)
	assert.Equal(t, 1, preds[1].Class)
	for _, p := range preds {
		sum := 0.0
		for _, q := range p.Probabilities {
			sum += q
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestPredictPrecisionOverride(t *testing.T) {
	b := hetest.New()
	c := newServer(t, b, mustModel(t, "Fraud", [][]float64{{1, 2}}))

	preds, err := Predict(context.Background(), newSession(t, b), c, "Fraud",
		[][]float64{{1.25, 0}}, Options{Precision: 10})
	require.NoError(t, err)

	// 1.25 scales to 12 under P1 = 10, so the sum is 12 * 1000.
	assert.Equal(t, []int64{12_000}, preds[0].Raw)
	assert.Equal(t, []int64{1}, preds[0].Sums)
	assert.InDelta(t, 1.2, preds[0].Logits[0], 1e-9)
}

func TestPredictErrors(t *testing.T) {
	b := hetest.New()
	c := newServer(t, b, mustModel(t, "Fraud", [][]float64{{1, 2}}))
	ctx := context.Background()
	sess := newSession(t, b)

	_, err := Predict(ctx, sess, c, "Missing", [][]float64{{1, 2}}, Options{})
	assert.ErrorIs(t, err, he.ErrModelNotFound)

	_, err = Predict(ctx, sess, c, "Fraud", [][]float64{{1, 2, 3}}, Options{})
	assert.ErrorIs(t, err, he.ErrFeatureCountMismatch)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 422, se.Code)

	other := hetest.New()
	other.ID = "other"
	_, err = Predict(ctx, newSession(t, other), c, "Fraud", [][]float64{{1, 2}}, Options{})
	assert.ErrorIs(t, err, he.ErrIncompatibleParameters)
}

func TestPredictNoiseBudgetExhausted(t *testing.T) {
	b := hetest.New()
	b.FreshBudget = 10
	c := newServer(t, b, mustModel(t, "Fraud", [][]float64{{1, 2}}))

	_, err := Predict(context.Background(), newSession(t, b), c, "Fraud", [][]float64{{1, 2}}, Options{})
	require.ErrorIs(t, err, he.ErrNoiseBudgetExhausted)
	var nbe *he.NoiseBudgetExhaustedError
	require.ErrorAs(t, err, &nbe)
	assert.Equal(t, 0, nbe.Sample)
}

func TestModels(t *testing.T) {
	b := hetest.New()
	c := newServer(t, b, mustModel(t, "B", [][]float64{{1}}), mustModel(t, "A", [][]float64{{1, 2}, {3, 4}}))

	infos, err := c.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "A", infos[0].Name)
	assert.Equal(t, 2, infos[0].Classes)

	desc, err := c.Params(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock", desc.ParametersID)
}

func TestLinks(t *testing.T) {
	s := Sigmoid{}
	assert.Equal(t, []float64{0.5}, s.Probabilities([]float64{0}))
	assert.Equal(t, 1, s.Class([]float64{0.5}))
	assert.Equal(t, 0, s.Class([]float64{0.49}))

	sm := Softmax{}
	probs := sm.Probabilities([]float64{1000, 1000})
	assert.InDelta(t, 0.5, probs[0], 1e-12)
	assert.False(t, math.IsNaN(probs[1]))
	assert.Equal(t, 2, sm.Class([]float64{0.1, 0.2, 0.7}))
	assert.Nil(t, sm.Probabilities(nil))
	assert.Equal(t, -1, sm.Class(nil))

	assert.Equal(t, "sigmoid", LinkFor(1).Name())
	assert.Equal(t, "softmax", LinkFor(3).Name())
}
