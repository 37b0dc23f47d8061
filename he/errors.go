package he

import (
	"errors"
	"fmt"
)

// Error kinds shared by the whole pipeline. Use errors.Is to classify a
// returned error; the typed errors below carry the context and match these.
var (
	ErrFeatureCountMismatch   = errors.New("feature count mismatch")
	ErrCorruptStream          = errors.New("corrupt ciphertext stream")
	ErrModelNotFound          = errors.New("model not found")
	ErrInvalidModelName       = errors.New("invalid model name")
	ErrNoiseBudgetExhausted   = errors.New("noise budget exhausted")
	ErrIncompatibleParameters = errors.New("incompatible parameters")
)

// FeatureCountMismatchError reports the first sample whose length differs
// from the model's feature count.
type FeatureCountMismatchError struct {
	Sample   int
	Actual   int
	Expected int
}

func (e *FeatureCountMismatchError) Error() string {
	return fmt.Sprintf("%v: sample %d has %d features, model expects %d",
		ErrFeatureCountMismatch, e.Sample, e.Actual, e.Expected)
}

func (e *FeatureCountMismatchError) Is(target error) bool {
	return target == ErrFeatureCountMismatch
}

// CorruptStreamError reports where a size table and its byte buffer stopped
// agreeing. Entry is the size-table index, or -1 when the problem is not tied
// to one entry.
type CorruptStreamError struct {
	Entry  int
	Offset int
	Reason string
	Err    error
}

func (e *CorruptStreamError) Error() string {
	msg := fmt.Sprintf("%v: %s", ErrCorruptStream, e.Reason)
	if e.Entry >= 0 {
		msg += fmt.Sprintf(" (entry %d, offset %d)", e.Entry, e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptStreamError) Is(target error) bool {
	return target == ErrCorruptStream
}

func (e *CorruptStreamError) Unwrap() error { return e.Err }

// NoiseBudgetExhaustedError is returned instead of a decrypted value when a
// result ciphertext has no budget left.
type NoiseBudgetExhaustedError struct {
	Sample int
	Class  int
	Budget int
}

func (e *NoiseBudgetExhaustedError) Error() string {
	return fmt.Sprintf("%v: sample %d class %d (budget %d bits)",
		ErrNoiseBudgetExhausted, e.Sample, e.Class, e.Budget)
}

func (e *NoiseBudgetExhaustedError) Is(target error) bool {
	return target == ErrNoiseBudgetExhausted
}
