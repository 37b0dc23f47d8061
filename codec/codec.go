// Package codec flattens a batch of ciphertexts into one byte buffer plus a
// size table, and rebuilds the batch on the other side.
//
// The buffer carries no length prefixes: the size table alone describes it.
// Every ciphertext contributes one entry holding its byte length, and every
// sample is closed by a Sentinel entry that consumes no bytes.
package codec

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"bfv-inference/he"
)

// Sentinel marks the end of a sample in a SizeTable.
const Sentinel int64 = -1

// SizeTable lists ciphertext byte lengths in stream order, with a Sentinel
// after each sample.
type SizeTable []int64

// Samples counts the sentinels.
func (t SizeTable) Samples() int {
	n := 0
	for _, s := range t {
		if s == Sentinel {
			n++
		}
	}
	return n
}

// String renders the table as comma-separated integers, the way it travels
// on the wire.
func (t SizeTable) String() string {
	var sb strings.Builder
	for i, s := range t {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(s, 10))
	}
	return sb.String()
}

// ParseSizeTable parses the wire form produced by String. An empty string is
// an empty table.
func ParseSizeTable(s string) (SizeTable, error) {
	if s == "" {
		return SizeTable{}, nil
	}
	fields := strings.Split(s, ",")
	t := make(SizeTable, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, &he.CorruptStreamError{Entry: i, Offset: -1, Reason: fmt.Sprintf("malformed size %q", f), Err: err}
		}
		if v < Sentinel {
			return nil, &he.CorruptStreamError{Entry: i, Offset: -1, Reason: fmt.Sprintf("negative size %d", v)}
		}
		t[i] = v
	}
	return t, nil
}

// Encode serializes batch in sample order.
func Encode(s he.Serializer, batch he.Batch) ([]byte, SizeTable, error) {
	var buf bytes.Buffer
	sizes := make(SizeTable, 0, batch.Len()+len(batch))

	for i, sample := range batch {
		for j, ct := range sample {
			data, err := s.Save(ct)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to serialize sample %d feature %d: %w", i, j, err)
			}
			buf.Write(data)
			sizes = append(sizes, int64(len(data)))
		}
		sizes = append(sizes, Sentinel)
	}
	return buf.Bytes(), sizes, nil
}

// Decode rebuilds the batch described by sizes. It fails with
// he.ErrCorruptStream when the table and buffer disagree or a ciphertext
// cannot be loaded.
func Decode(s he.Serializer, data []byte, sizes SizeTable) (he.Batch, error) {
	batch := make(he.Batch, 0, sizes.Samples())
	var current he.Sample
	offset := 0

	for i, size := range sizes {
		switch {
		case size == Sentinel:
			if current == nil {
				current = he.Sample{}
			}
			batch = append(batch, current)
			current = nil
			continue
		case size < 0:
			return nil, &he.CorruptStreamError{Entry: i, Offset: offset, Reason: fmt.Sprintf("negative size %d", size)}
		case size > int64(len(data)-offset):
			return nil, &he.CorruptStreamError{Entry: i, Offset: offset,
				Reason: fmt.Sprintf("size %d exceeds remaining %d bytes", size, len(data)-offset)}
		}

		end := offset + int(size)
		ct, err := s.Load(data[offset:end])
		if err != nil {
			return nil, &he.CorruptStreamError{Entry: i, Offset: offset, Reason: "ciphertext rejected", Err: err}
		}
		current = append(current, ct)
		offset = end
	}

	if current != nil {
		return nil, &he.CorruptStreamError{Entry: len(sizes), Offset: offset, Reason: "last sample has no sentinel"}
	}
	if offset != len(data) {
		return nil, &he.CorruptStreamError{Entry: -1, Offset: offset,
			Reason: fmt.Sprintf("%d trailing bytes after last ciphertext", len(data)-offset)}
	}
	return batch, nil
}
