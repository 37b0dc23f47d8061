// Package envelope frames a ciphertext stream and its size table into one
// message body:
//
//	[ciphertext bytes][size table as UTF-8 text][uint64 length of part 1]
//
// The trailer is little-endian and always the last 8 bytes.
package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"bfv-inference/codec"
	"bfv-inference/he"
)

// TrailerSize is the width of the length trailer.
const TrailerSize = 8

// ErrTooLarge is returned by Read when a body exceeds its limit.
var ErrTooLarge = errors.New("envelope too large")

// Seal builds a message body.
func Seal(stream []byte, sizes codec.SizeTable) []byte {
	table := sizes.String()
	out := make([]byte, 0, len(stream)+len(table)+TrailerSize)
	out = append(out, stream...)
	out = append(out, table...)
	return binary.LittleEndian.AppendUint64(out, uint64(len(stream)))
}

// Open splits a message body into its stream and parsed size table. The
// returned stream aliases body.
func Open(body []byte) ([]byte, codec.SizeTable, error) {
	if len(body) < TrailerSize {
		return nil, nil, &he.CorruptStreamError{Entry: -1, Offset: len(body),
			Reason: fmt.Sprintf("envelope of %d bytes is shorter than its trailer", len(body))}
	}
	end := len(body) - TrailerSize
	total := binary.LittleEndian.Uint64(body[end:])
	if total > uint64(end) {
		return nil, nil, &he.CorruptStreamError{Entry: -1, Offset: end,
			Reason: fmt.Sprintf("trailer claims %d stream bytes, only %d available", total, end)}
	}

	text := body[total:end]
	if !utf8.Valid(text) {
		return nil, nil, &he.CorruptStreamError{Entry: -1, Offset: int(total), Reason: "size table is not valid UTF-8"}
	}
	sizes, err := codec.ParseSizeTable(string(text))
	if err != nil {
		return nil, nil, err
	}
	return body[:total], sizes, nil
}

// ReadBody reads a whole message from r without opening it, refusing bodies
// over limit bytes. A limit <= 0 means no limit.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read envelope: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, limit)
	}
	return body, nil
}

// Read reads a whole message from r and opens it.
func Read(r io.Reader, limit int64) ([]byte, codec.SizeTable, error) {
	body, err := ReadBody(r, limit)
	if err != nil {
		return nil, nil, err
	}
	return Open(body)
}

// Write seals and writes a message to w.
func Write(w io.Writer, stream []byte, sizes codec.SizeTable) error {
	_, err := w.Write(Seal(stream, sizes))
	return err
}

// Pack encodes batch with s and seals the result.
func Pack(s he.Serializer, batch he.Batch) ([]byte, error) {
	stream, sizes, err := codec.Encode(s, batch)
	if err != nil {
		return nil, err
	}
	return Seal(stream, sizes), nil
}

// Unpack opens body and decodes the batch it carries.
func Unpack(s he.Serializer, body []byte) (he.Batch, error) {
	stream, sizes, err := Open(body)
	if err != nil {
		return nil, err
	}
	return codec.Decode(s, stream, sizes)
}
