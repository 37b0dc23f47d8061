// Package precision maps real values into the integer domain the scheme
// computes in, and back.
//
// Features are scaled by P1 on the client, weights by P2 on the evaluator, so
// a decrypted weighted sum carries a factor P1*P2. Nothing on the wire checks
// that both sides agree on P1 and P2: a mismatch silently yields wrong sums.
package precision

import (
	"errors"
	"fmt"
	"math"
)

// Default is the precision factor used on both sides unless configured.
const Default int64 = 1000

// Scale maps v to trunc(v*p).
func Scale(v float64, p int64) int64 {
	return int64(v * float64(p))
}

// ErrOutOfRange is returned when a value cannot be represented once scaled.
var ErrOutOfRange = errors.New("value out of range")

// ScaleChecked is Scale for values that must be finite and, when limit is
// positive, land in [-limit, limit] after scaling. A zero limit only bounds
// the result to int64.
func ScaleChecked(v float64, p, limit int64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v is not a finite number", ErrOutOfRange, v)
	}
	s := v * float64(p)
	if s >= 0x1p63 || s < -0x1p63 {
		return 0, fmt.Errorf("%w: %v scaled by %d overflows int64", ErrOutOfRange, v, p)
	}
	n := int64(s)
	if limit > 0 && (n > limit || n < -limit) {
		return 0, fmt.Errorf("%w: %v scaled by %d exceeds ±%d", ErrOutOfRange, v, p, limit)
	}
	return n, nil
}

// ScaleAll scales every value of vs by p.
func ScaleAll(vs []float64, p int64) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = Scale(v, p)
	}
	return out
}

// Rescale undoes both scalings with truncating integer division.
func Rescale(raw, featureP, weightP int64) int64 {
	return raw / (featureP * weightP)
}

// Real undoes both scalings without truncation.
func Real(raw, featureP, weightP int64) float64 {
	return float64(raw) / float64(featureP*weightP)
}

// Validate rejects precision factors that cannot be used.
func Validate(p int64) error {
	if p <= 0 {
		return fmt.Errorf("precision must be positive, got %d", p)
	}
	return nil
}
