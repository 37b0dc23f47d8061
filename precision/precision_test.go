package precision

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleTruncates(t *testing.T) {
	assert.Equal(t, int64(500), Scale(0.5, 1000))
	assert.Equal(t, int64(250), Scale(0.25, 1000))
	assert.Equal(t, int64(-1234), Scale(-1.2349, 1000))
	assert.Equal(t, int64(0), Scale(0.0009, 1000))
	assert.Equal(t, int64(0), Scale(-0.0009, 1000))
	assert.Equal(t, []int64{3000, 4000}, ScaleAll([]float64{3.0, 4.0}, 1000))
}

func TestRescaleTruncates(t *testing.T) {
	// 0.5 * 0.25 = 0.125, but the integer contract keeps only the whole part.
	raw := Scale(0.5, 1000) * Scale(0.25, 1000)
	assert.Equal(t, int64(125000), raw)
	assert.Equal(t, int64(0), Rescale(raw, 1000, 1000))
	assert.InDelta(t, 0.125, Real(raw, 1000, 1000), 1e-12)

	assert.Equal(t, int64(11), Rescale(11_000_000, 1000, 1000))
	assert.Equal(t, int64(-2), Rescale(-2_999_999, 1000, 1000))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Default))
	assert.Error(t, Validate(0))
	assert.Error(t, Validate(-10))
}

func TestScaleChecked(t *testing.T) {
	n, err := ScaleChecked(-1.2349, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(-1234), n)

	n, err = ScaleChecked(2.5, 1000, 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), n)
	_, err = ScaleChecked(2.501, 1000, 2500)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = ScaleChecked(-2.501, 1000, 2500)
	assert.ErrorIs(t, err, ErrOutOfRange)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 1e300, -1e300} {
		_, err := ScaleChecked(v, 1000, 0)
		assert.ErrorIs(t, err, ErrOutOfRange, "%v", v)
	}
}
