package he

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bfv"
	"golang.org/x/crypto/blake2b"
)

// PlaintextModulus is a 46-bit prime congruent to 1 mod 2^15, which gives
// full slot batching up to LogN=14 and an exact signed range of about ±1.7e13.
const PlaintextModulus = 0x200000008001

var (
	// DefaultParameters is the production preset.
	DefaultParameters = bfv.ParametersLiteral{
		LogN:             14,
		LogQ:             []int{60, 60, 60, 60},
		LogP:             []int{61},
		PlaintextModulus: PlaintextModulus,
	}

	// CompactParameters trades headroom for speed. Used by tests and the
	// benchmark's quick mode.
	CompactParameters = bfv.ParametersLiteral{
		LogN:             13,
		LogQ:             []int{60, 60, 60},
		LogP:             []int{61},
		PlaintextModulus: PlaintextModulus,
	}
)

// Preset returns the parameter literal registered under name.
func Preset(name string) (bfv.ParametersLiteral, error) {
	switch name {
	case "", "default":
		return DefaultParameters, nil
	case "compact":
		return CompactParameters, nil
	}
	return bfv.ParametersLiteral{}, fmt.Errorf("unknown parameter preset %q", name)
}

// BFV is the lattigo-backed Backend. Integers live in every slot of a batched
// plaintext, so an encoded value is the constant polynomial v and multiplying
// by it scales the noise by |v| only.
type BFV struct {
	params bfv.Parameters
	id     string

	encoders   sync.Pool
	evaluators sync.Pool
}

// NewBFV builds a backend from a parameter literal.
func NewBFV(lit bfv.ParametersLiteral) (*BFV, error) {
	params, err := bfv.NewParametersFromLiteral(lit)
	if err != nil {
		return nil, fmt.Errorf("invalid BFV parameters: %w", err)
	}

	raw, err := params.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters: %w", err)
	}
	sum := blake2b.Sum256(raw)

	b := &BFV{params: params, id: hex.EncodeToString(sum[:])}

	// No evaluation keys: plaintext multiplication and addition never
	// relinearize or rotate.
	encoder := bfv.NewEncoder(params)
	evaluator := bfv.NewEvaluator(params, nil)
	b.encoders.New = func() any { return encoder.ShallowCopy() }
	b.evaluators.New = func() any { return evaluator.ShallowCopy() }

	return b, nil
}

// Parameters exposes the underlying lattigo parameters.
func (b *BFV) Parameters() bfv.Parameters { return b.params }

func (b *BFV) ParametersID() string { return b.id }

func (b *BFV) Describe() Description {
	return Description{
		Scheme:           "BFV",
		LogN:             b.params.LogN(),
		LogQ:             b.params.LogQi(),
		LogP:             b.params.LogPi(),
		PlaintextModulus: b.params.PlaintextModulus(),
		ParametersID:     b.id,
	}
}

func (b *BFV) GenKeyPair() (KeyPair, error) {
	sk, pk := bfv.NewKeyGenerator(b.params).GenKeyPairNew()
	return KeyPair{Public: pk, Secret: sk}, nil
}

func (b *BFV) EncodeInteger(v int64) (Plaintext, error) {
	values := make([]int64, b.params.MaxSlots())
	for i := range values {
		values[i] = v
	}

	ecd := b.encoders.Get().(*bfv.Encoder)
	defer b.encoders.Put(ecd)

	pt := bfv.NewPlaintext(b.params, b.params.MaxLevel())
	if err := ecd.Encode(values, pt); err != nil {
		return nil, fmt.Errorf("encode %d: %w", v, err)
	}
	return pt, nil
}

func (b *BFV) DecodeInteger(pt Plaintext) (int64, error) {
	p, err := asPlaintext(pt)
	if err != nil {
		return 0, err
	}

	ecd := b.encoders.Get().(*bfv.Encoder)
	defer b.encoders.Put(ecd)

	values := make([]int64, b.params.MaxSlots())
	if err := ecd.Decode(p, values); err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	return values[0], nil
}

func (b *BFV) Encrypt(pk PublicKey, pt Plaintext) (Ciphertext, error) {
	key, ok := pk.(*rlwe.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected *rlwe.PublicKey, got %T", pk)
	}
	p, err := asPlaintext(pt)
	if err != nil {
		return nil, err
	}
	ct, err := bfv.NewEncryptor(b.params, key).EncryptNew(p)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return ct, nil
}

func (b *BFV) Decrypt(sk SecretKey, ct Ciphertext) (Plaintext, error) {
	key, ok := sk.(*rlwe.SecretKey)
	if !ok {
		return nil, fmt.Errorf("expected *rlwe.SecretKey, got %T", sk)
	}
	c, err := asCiphertext(ct)
	if err != nil {
		return nil, err
	}
	return bfv.NewDecryptor(b.params, key).DecryptNew(c), nil
}

func (b *BFV) MultiplyPlain(ct Ciphertext, pt Plaintext) (Ciphertext, error) {
	c, err := asCiphertext(ct)
	if err != nil {
		return nil, err
	}
	p, err := asPlaintext(pt)
	if err != nil {
		return nil, err
	}

	eval := b.evaluators.Get().(*bfv.Evaluator)
	defer b.evaluators.Put(eval)

	out, err := eval.MulNew(c, p)
	if err != nil {
		return nil, fmt.Errorf("multiply plain: %w", err)
	}
	return out, nil
}

func (b *BFV) AddMany(cts []Ciphertext) (Ciphertext, error) {
	if len(cts) == 0 {
		// Trivial encryption of zero: both components are the zero polynomial.
		return bfv.NewCiphertext(b.params, 1, b.params.MaxLevel()), nil
	}

	first, err := asCiphertext(cts[0])
	if err != nil {
		return nil, err
	}
	acc := first.CopyNew()

	eval := b.evaluators.Get().(*bfv.Evaluator)
	defer b.evaluators.Put(eval)

	for i, ct := range cts[1:] {
		c, err := asCiphertext(ct)
		if err != nil {
			return nil, err
		}
		if err := eval.Add(acc, c, acc); err != nil {
			return nil, fmt.Errorf("addition failed at term %d: %w", i+1, err)
		}
	}
	return acc, nil
}

func (b *BFV) Save(ct Ciphertext) ([]byte, error) {
	c, err := asCiphertext(ct)
	if err != nil {
		return nil, err
	}
	return c.MarshalBinary()
}

func (b *BFV) Load(data []byte) (ct Ciphertext, err error) {
	// Input comes off the wire; a malformed header must not take the
	// process down.
	defer func() {
		if r := recover(); r != nil {
			ct, err = nil, fmt.Errorf("malformed ciphertext: %v", r)
		}
	}()

	c := new(rlwe.Ciphertext)
	if err := c.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to deserialize ciphertext: %w", err)
	}

	if err := b.checkCiphertext(c); err != nil {
		return nil, err
	}
	return c, nil
}

// checkCiphertext rejects anything the evaluator could not operate on.
// Every polynomial carries its own header on the wire, so each one is
// checked against the ring separately.
func (b *BFV) checkCiphertext(c *rlwe.Ciphertext) error {
	if c.MetaData == nil {
		return fmt.Errorf("%w: ciphertext has no metadata", ErrIncompatibleParameters)
	}
	if len(c.Value) != 2 {
		return fmt.Errorf("%w: ciphertext degree %d", ErrIncompatibleParameters, len(c.Value)-1)
	}

	level := len(c.Value[0].Coeffs) - 1
	if level < 0 || level > b.params.MaxLevel() {
		return fmt.Errorf("%w: invalid ciphertext level %d (max: %d)",
			ErrIncompatibleParameters, level, b.params.MaxLevel())
	}
	for i := range c.Value {
		if got := len(c.Value[i].Coeffs) - 1; got != level {
			return fmt.Errorf("%w: polynomial %d has level %d, expected %d",
				ErrIncompatibleParameters, i, got, level)
		}
		for _, row := range c.Value[i].Coeffs {
			if len(row) != b.params.N() {
				return fmt.Errorf("%w: polynomial %d has ring degree %d, expected %d",
					ErrIncompatibleParameters, i, len(row), b.params.N())
			}
		}
	}

	if c.IsNTT != b.params.NTTFlag() {
		return fmt.Errorf("%w: ciphertext NTT flag %v, expected %v",
			ErrIncompatibleParameters, c.IsNTT, b.params.NTTFlag())
	}
	return nil
}

func (b *BFV) MarshalPublicKey(pk PublicKey) ([]byte, error) {
	key, ok := pk.(*rlwe.PublicKey)
	if !ok {
		return nil, fmt.Errorf("expected *rlwe.PublicKey, got %T", pk)
	}
	return key.MarshalBinary()
}

func (b *BFV) UnmarshalPublicKey(data []byte) (PublicKey, error) {
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to deserialize public key: %w", err)
	}
	if len(pk.Value) == 0 || pk.N() != b.params.N() || pk.LevelQ() != b.params.MaxLevelQ() {
		return nil, fmt.Errorf("%w: public key does not match ring", ErrIncompatibleParameters)
	}
	return pk, nil
}

func asCiphertext(ct Ciphertext) (*rlwe.Ciphertext, error) {
	c, ok := ct.(*rlwe.Ciphertext)
	if !ok || c == nil {
		return nil, fmt.Errorf("expected *rlwe.Ciphertext, got %T", ct)
	}
	return c, nil
}

func asPlaintext(pt Plaintext) (*rlwe.Plaintext, error) {
	p, ok := pt.(*rlwe.Plaintext)
	if !ok || p == nil {
		return nil, fmt.Errorf("expected *rlwe.Plaintext, got %T", pt)
	}
	return p, nil
}
