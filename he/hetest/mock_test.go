package hetest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfv-inference/he"
)

func TestMockArithmetic(t *testing.T) {
	b := New()
	kp, err := b.GenKeyPair()
	require.NoError(t, err)

	pt, _ := b.EncodeInteger(3)
	ct, err := b.Encrypt(kp.Public, pt)
	require.NoError(t, err)
	w, _ := b.EncodeInteger(-7)
	prod, err := b.MultiplyPlain(ct, w)
	require.NoError(t, err)
	sum, err := b.AddMany([]he.Ciphertext{prod, ct})
	require.NoError(t, err)

	out, err := b.Decrypt(kp.Secret, sum)
	require.NoError(t, err)
	v, _ := b.DecodeInteger(out)
	assert.Equal(t, int64(-18), v)
	assert.Equal(t, 100-10-1, Budget(sum))
	assert.Equal(t, int64(1), b.Mults.Load())

	zero, err := b.AddMany(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), Value(zero))
}

func TestMockSaveLoad(t *testing.T) {
	b := New()
	kp, _ := b.GenKeyPair()

	short, _ := b.EncodeInteger(1)
	long, _ := b.EncodeInteger(-1 << 50)
	c1, _ := b.Encrypt(kp.Public, short)
	c2, _ := b.Encrypt(kp.Public, long)

	d1, err := b.Save(c1)
	require.NoError(t, err)
	d2, err := b.Save(c2)
	require.NoError(t, err)
	assert.NotEqual(t, len(d1), len(d2))

	l2, err := b.Load(d2)
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<50), Value(l2))

	_, err = b.Load(d2[:len(d2)-1])
	assert.Error(t, err)
	_, err = b.Load(append(d1, 0))
	assert.Error(t, err)
	_, err = b.Load(nil)
	assert.Error(t, err)
}

func TestMockWrongKey(t *testing.T) {
	b := New()
	a, _ := b.GenKeyPair()
	other, _ := b.GenKeyPair()

	pt, _ := b.EncodeInteger(5000)
	ct, _ := b.Encrypt(a.Public, pt)
	out, err := b.Decrypt(other.Secret, ct)
	require.NoError(t, err)
	v, _ := b.DecodeInteger(out)
	assert.NotEqual(t, int64(5000), v)
}
