// Package hetest provides an insecure he.Backend that does plain int64
// arithmetic. It keeps the codec, engine and session tests independent of
// lattice parameters while still modelling noise consumption.
package hetest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"bfv-inference/he"
)

const magic = 0xce

// Backend is a mock he.Backend. The zero value is not usable; call New.
type Backend struct {
	// ID is returned by ParametersID.
	ID string
	// FreshBudget is the budget of a newly encrypted ciphertext.
	FreshBudget int
	// MulCost and AddCost are subtracted per operation.
	MulCost int
	AddCost int
	// PlaintextModulus is reported by Describe. Zero leaves plaintexts
	// unbounded.
	PlaintextModulus uint64
	// OnMultiply, if set, runs before every MultiplyPlain.
	OnMultiply func()

	Mults atomic.Int64
	Adds  atomic.Int64

	nextKey atomic.Uint64
}

// New returns a backend with a generous budget.
func New() *Backend {
	return &Backend{ID: "mock", FreshBudget: 100, MulCost: 10, AddCost: 1}
}

type ciphertext struct {
	value  int64
	budget int
	key    uint64
}

type plaintext struct{ value int64 }

type publicKey struct{ id uint64 }

type secretKey struct{ id uint64 }

// Value returns the value carried by a mock ciphertext without a key.
func Value(ct he.Ciphertext) int64 { return ct.(*ciphertext).value }

// Budget returns the remaining budget of a mock ciphertext.
func Budget(ct he.Ciphertext) int { return ct.(*ciphertext).budget }

// WithBudget returns a copy of ct whose remaining budget is budget.
func WithBudget(ct he.Ciphertext, budget int) he.Ciphertext {
	c := *ct.(*ciphertext)
	c.budget = budget
	return &c
}

func (b *Backend) ParametersID() string { return b.ID }

func (b *Backend) Describe() he.Description {
	return he.Description{Scheme: "mock", ParametersID: b.ID, PlaintextModulus: b.PlaintextModulus}
}

func (b *Backend) GenKeyPair() (he.KeyPair, error) {
	id := b.nextKey.Add(1)
	return he.KeyPair{Public: &publicKey{id}, Secret: &secretKey{id}}, nil
}

func (b *Backend) EncodeInteger(v int64) (he.Plaintext, error) {
	return &plaintext{v}, nil
}

func (b *Backend) DecodeInteger(pt he.Plaintext) (int64, error) {
	p, ok := pt.(*plaintext)
	if !ok {
		return 0, fmt.Errorf("hetest: unexpected plaintext %T", pt)
	}
	return p.value, nil
}

func (b *Backend) Encrypt(pk he.PublicKey, pt he.Plaintext) (he.Ciphertext, error) {
	k, ok := pk.(*publicKey)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected public key %T", pk)
	}
	p, ok := pt.(*plaintext)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected plaintext %T", pt)
	}
	return &ciphertext{value: p.value, budget: b.FreshBudget, key: k.id}, nil
}

// Decrypt under the wrong key yields a scrambled value, not an error.
func (b *Backend) Decrypt(sk he.SecretKey, ct he.Ciphertext) (he.Plaintext, error) {
	k, ok := sk.(*secretKey)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected secret key %T", sk)
	}
	c, ok := ct.(*ciphertext)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected ciphertext %T", ct)
	}
	v := c.value
	if c.key != 0 && c.key != k.id {
		v ^= int64(0x5bd1e995 * (c.key ^ k.id))
	}
	return &plaintext{v}, nil
}

func (b *Backend) NoiseBudget(_ he.SecretKey, ct he.Ciphertext) (int, error) {
	c, ok := ct.(*ciphertext)
	if !ok {
		return 0, fmt.Errorf("hetest: unexpected ciphertext %T", ct)
	}
	return c.budget, nil
}

func (b *Backend) MultiplyPlain(ct he.Ciphertext, pt he.Plaintext) (he.Ciphertext, error) {
	if b.OnMultiply != nil {
		b.OnMultiply()
	}
	b.Mults.Add(1)
	c, ok := ct.(*ciphertext)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected ciphertext %T", ct)
	}
	p, ok := pt.(*plaintext)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected plaintext %T", pt)
	}
	return &ciphertext{value: c.value * p.value, budget: spend(c.budget, b.MulCost), key: c.key}, nil
}

func (b *Backend) AddMany(cts []he.Ciphertext) (he.Ciphertext, error) {
	b.Adds.Add(1)
	out := &ciphertext{budget: b.FreshBudget}
	for i, ct := range cts {
		c, ok := ct.(*ciphertext)
		if !ok {
			return nil, fmt.Errorf("hetest: unexpected ciphertext %T", ct)
		}
		out.value += c.value
		if out.key == 0 {
			out.key = c.key
		}
		if i == 0 || c.budget < out.budget {
			out.budget = c.budget
		}
	}
	if len(cts) > 1 {
		out.budget = spend(out.budget, b.AddCost)
	}
	return out, nil
}

// Save produces a variable-length encoding: the value is a zig-zag varint.
func (b *Backend) Save(ct he.Ciphertext) ([]byte, error) {
	c, ok := ct.(*ciphertext)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected ciphertext %T", ct)
	}
	buf := []byte{magic}
	buf = binary.AppendVarint(buf, c.value)
	buf = binary.AppendUvarint(buf, uint64(c.budget))
	buf = binary.AppendUvarint(buf, c.key)
	return buf, nil
}

func (b *Backend) Load(data []byte) (he.Ciphertext, error) {
	if len(data) == 0 || data[0] != magic {
		return nil, errors.New("hetest: bad ciphertext header")
	}
	rest := data[1:]
	value, n := binary.Varint(rest)
	if n <= 0 {
		return nil, errors.New("hetest: truncated value")
	}
	rest = rest[n:]
	budget, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, errors.New("hetest: truncated budget")
	}
	rest = rest[n:]
	key, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, errors.New("hetest: truncated key")
	}
	if n != len(rest) {
		return nil, errors.New("hetest: trailing bytes")
	}
	return &ciphertext{value: value, budget: int(budget), key: key}, nil
}

func (b *Backend) MarshalPublicKey(pk he.PublicKey) ([]byte, error) {
	k, ok := pk.(*publicKey)
	if !ok {
		return nil, fmt.Errorf("hetest: unexpected public key %T", pk)
	}
	return binary.BigEndian.AppendUint64([]byte{'p'}, k.id), nil
}

func (b *Backend) UnmarshalPublicKey(data []byte) (he.PublicKey, error) {
	if len(data) != 9 || data[0] != 'p' {
		return nil, errors.New("hetest: bad public key")
	}
	return &publicKey{binary.BigEndian.Uint64(data[1:])}, nil
}

func spend(budget, cost int) int {
	if budget -= cost; budget < 0 {
		return 0
	}
	return budget
}

var _ he.Backend = (*Backend)(nil)
