package he

import (
	"fmt"
	"math/big"

	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bfv"
)

// NoiseBudget returns the invariant noise budget of ct in bits.
//
// Decryption computes T*[c0 + c1*s]_Q = m + T*e (mod Q) and is correct while
// that stays below Q/2, so the budget is log2(Q/2) minus the bit length of the
// largest centered coefficient. It never goes below zero.
func (b *BFV) NoiseBudget(sk SecretKey, ct Ciphertext) (int, error) {
	key, ok := sk.(*rlwe.SecretKey)
	if !ok {
		return 0, fmt.Errorf("expected *rlwe.SecretKey, got %T", sk)
	}
	c, err := asCiphertext(ct)
	if err != nil {
		return 0, err
	}

	level := c.Level()
	pt := bfv.NewPlaintext(b.params, level)
	bfv.NewDecryptor(b.params, key).Decrypt(c, pt)

	ringQ := b.params.RingQ().AtLevel(level)
	if pt.IsNTT {
		ringQ.INTT(pt.Value, pt.Value)
	}
	ringQ.MulScalar(pt.Value, b.params.PlaintextModulus(), pt.Value)

	coeffs := make([]*big.Int, b.params.N())
	for i := range coeffs {
		coeffs[i] = new(big.Int)
	}
	ringQ.PolyToBigintCentered(pt.Value, 1, coeffs)

	maxBits := 0
	for _, v := range coeffs {
		if n := v.BitLen(); n > maxBits {
			maxBits = n
		}
	}

	budget := ringQ.Modulus().BitLen() - 1 - maxBits
	if budget < 0 {
		budget = 0
	}
	return budget, nil
}
