package codec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"

	"bfv-inference/he"
	"bfv-inference/he/hetest"
)

func makeBatch(t *testing.T, b he.Backend, samples, features int) he.Batch {
	t.Helper()
	kp, err := b.GenKeyPair()
	require.NoError(t, err)

	batch := make(he.Batch, samples)
	for i := range batch {
		batch[i] = make(he.Sample, features)
		for j := range batch[i] {
			// Mixed magnitudes give mixed ciphertext lengths.
			pt, err := b.EncodeInteger(int64((i+1)*(j+1)) << (8 * j))
			require.NoError(t, err)
			batch[i][j], err = b.Encrypt(kp.Public, pt)
			require.NoError(t, err)
		}
	}
	return batch
}

func saveAll(t *testing.T, s he.Serializer, batch he.Batch) [][][]byte {
	t.Helper()
	out := make([][][]byte, len(batch))
	for i, sample := range batch {
		out[i] = make([][]byte, len(sample))
		for j, ct := range sample {
			data, err := s.Save(ct)
			require.NoError(t, err)
			out[i][j] = data
		}
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	b := hetest.New()

	for _, tc := range []struct{ samples, features int }{
		{0, 0}, {0, 3}, {1, 0}, {3, 0}, {1, 1}, {3, 4}, {7, 2},
	} {
		t.Run(fmt.Sprintf("%dx%d", tc.samples, tc.features), func(t *testing.T) {
			batch := makeBatch(t, b, tc.samples, tc.features)

			data, sizes, err := Encode(b, batch)
			require.NoError(t, err)
			require.Len(t, sizes, tc.samples*tc.features+tc.samples)
			assert.Equal(t, tc.samples, sizes.Samples())

			got, err := Decode(b, data, sizes)
			require.NoError(t, err)
			require.Len(t, got, tc.samples)
			if diff := cmp.Diff(saveAll(t, b, batch), saveAll(t, b, got)); diff != "" {
				t.Fatalf("batch mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSentinelPositions(t *testing.T) {
	b := hetest.New()

	for _, tc := range []struct {
		features  int
		entries   int
		sentinels []int
	}{
		{4, 15, []int{4, 9, 14}},
		{3, 12, []int{3, 7, 11}},
	} {
		data, sizes, err := Encode(b, makeBatch(t, b, 3, tc.features))
		require.NoError(t, err)
		require.Len(t, sizes, tc.entries)

		var sentinels []int
		var total int64
		for i, s := range sizes {
			if s == Sentinel {
				sentinels = append(sentinels, i)
				continue
			}
			total += s
		}
		assert.Equal(t, tc.sentinels, sentinels)
		assert.Equal(t, int64(len(data)), total)
	}
}

func TestEmptyBatch(t *testing.T) {
	b := hetest.New()

	data, sizes, err := Encode(b, nil)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Empty(t, sizes)
	assert.Equal(t, "", sizes.String())

	got, err := Decode(b, nil, SizeTable{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeCorrupt(t *testing.T) {
	b := hetest.New()
	data, sizes, err := Encode(b, makeBatch(t, b, 2, 2))
	require.NoError(t, err)

	clone := func() SizeTable { return append(SizeTable(nil), sizes...) }

	tests := []struct {
		name  string
		data  []byte
		sizes SizeTable
		entry int
	}{
		{"read past end", data[:len(data)-1], clone(), 4},
		{"size too large", data, func() SizeTable { s := clone(); s[0] = int64(len(data) + 1); return s }(), 0},
		{"negative size", data, func() SizeTable { s := clone(); s[1] = -5; return s }(), 1},
		{"garbled ciphertext", append([]byte{0x00}, data[1:]...), clone(), 0},
		{"missing sentinel", data, clone()[:len(sizes)-1], len(sizes) - 1},
		{"trailing bytes", append(append([]byte(nil), data...), 0xce), clone(), -1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(b, tc.data, tc.sizes)
			require.ErrorIs(t, err, he.ErrCorruptStream)

			var cse *he.CorruptStreamError
			require.True(t, errors.As(err, &cse))
			assert.Equal(t, tc.entry, cse.Entry)
		})
	}
}

func TestSizeTableText(t *testing.T) {
	st := SizeTable{120, 98, Sentinel, 130, Sentinel}
	assert.Equal(t, "120,98,-1,130,-1", st.String())

	parsed, err := ParseSizeTable(st.String())
	require.NoError(t, err)
	assert.Equal(t, st, parsed)

	for _, bad := range []string{"1,,2", "1,2,", "[1,2]", "1, 2", "abc", "-2"} {
		_, err := ParseSizeTable(bad)
		assert.ErrorIs(t, err, he.ErrCorruptStream, bad)
	}
}

func TestRoundTripBFV(t *testing.T) {
	b, err := he.NewBFV(he.CompactParameters)
	require.NoError(t, err)
	batch := makeBatch(t, b, 2, 3)

	data, sizes, err := Encode(b, batch)
	require.NoError(t, err)

	got, err := Decode(b, data, sizes)
	require.NoError(t, err)
	assert.Equal(t, saveAll(t, b, batch), saveAll(t, b, got))
}

func TestDecodeRejectsMalformedBFV(t *testing.T) {
	b, err := he.NewBFV(he.CompactParameters)
	require.NoError(t, err)
	batch := makeBatch(t, b, 1, 1)

	// Serialized without metadata: lattigo reads it back without complaint.
	bad := batch[0][0].(*rlwe.Ciphertext).CopyNew()
	bad.MetaData = nil
	data, err := bad.MarshalBinary()
	require.NoError(t, err)

	_, err = Decode(b, data, SizeTable{int64(len(data)), Sentinel})
	require.ErrorIs(t, err, he.ErrCorruptStream)
	assert.ErrorIs(t, err, he.ErrIncompatibleParameters)

	var cse *he.CorruptStreamError
	require.True(t, errors.As(err, &cse))
	assert.Equal(t, 0, cse.Entry)
}
