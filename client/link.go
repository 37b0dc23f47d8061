package client

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Link turns a sample's real-valued sums into class probabilities. It runs
// on the client after decryption, so it is exact rather than a polynomial
// approximation.
type Link interface {
	Name() string
	Probabilities(logits []float64) []float64
	// Class picks the predicted class from the probabilities.
	Class(probs []float64) int
}

// Sigmoid is the binary logistic link for single-class models: class 1 when
// the probability reaches one half.
type Sigmoid struct{}

func (Sigmoid) Name() string { return "sigmoid" }

func (Sigmoid) Probabilities(logits []float64) []float64 {
	out := make([]float64, len(logits))
	for i, z := range logits {
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out
}

func (Sigmoid) Class(probs []float64) int {
	if len(probs) > 0 && probs[0] >= 0.5 {
		return 1
	}
	return 0
}

// Softmax normalises one-vs-rest sums across classes.
type Softmax struct{}

func (Softmax) Name() string { return "softmax" }

func (Softmax) Probabilities(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	lse := floats.LogSumExp(logits)
	out := make([]float64, len(logits))
	for i, z := range logits {
		out[i] = math.Exp(z - lse)
	}
	return out
}

func (Softmax) Class(probs []float64) int {
	if len(probs) == 0 {
		return -1
	}
	return floats.MaxIdx(probs)
}

// LinkFor picks the link matching a model's class count.
func LinkFor(classes int) Link {
	if classes == 1 {
		return Sigmoid{}
	}
	return Softmax{}
}
