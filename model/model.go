// Package model holds the plaintext linear models the evaluator applies to
// encrypted features, and the stores they are loaded from.
package model

import (
	"fmt"
	"math"
	"regexp"

	"gonum.org/v1/gonum/mat"

	"bfv-inference/he"
	"bfv-inference/precision"
)

// DefaultType is the only model family the evaluator computes.
const DefaultType = "LogisticRegression"

var nameRE = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// ValidateName enforces the identifier rule applied before any lookup.
func ValidateName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", he.ErrInvalidModelName, name)
	}
	return nil
}

// Model is an immutable set of per-class weight vectors.
type Model struct {
	Name      string
	Type      string
	Precision int64

	weights *mat.Dense
}

// Info is the public description of a model. Weights are never exposed.
type Info struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Classes   int    `json:"classes"`
	Features  int    `json:"features"`
	Precision int64  `json:"precision"`
}

// New validates and copies weights (one row per class).
func New(name string, weights [][]float64, prec int64) (*Model, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := precision.Validate(prec); err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}
	if len(weights) == 0 || len(weights[0]) == 0 {
		return nil, fmt.Errorf("model %s: needs at least one class and one feature", name)
	}

	n := len(weights[0])
	data := make([]float64, 0, len(weights)*n)
	for c, row := range weights {
		if len(row) != n {
			return nil, fmt.Errorf("model %s: class %d has %d weights, expected %d", name, c, len(row), n)
		}
		for i, w := range row {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				return nil, fmt.Errorf("model %s: weight %d of class %d is %v", name, i, c, w)
			}
		}
		data = append(data, row...)
	}

	return &Model{
		Name:      name,
		Type:      DefaultType,
		Precision: prec,
		weights:   mat.NewDense(len(weights), n, data),
	}, nil
}

// Classes is M, the number of weight vectors.
func (m *Model) Classes() int {
	r, _ := m.weights.Dims()
	return r
}

// Features is N, the length of each weight vector.
func (m *Model) Features() int {
	_, c := m.weights.Dims()
	return c
}

// Row returns the weights of class c. The slice must not be modified.
func (m *Model) Row(c int) []float64 {
	return m.weights.RawRowView(c)
}

// Weights returns a copy of the weights as nested slices.
func (m *Model) Weights() [][]float64 {
	out := make([][]float64, m.Classes())
	for c := range out {
		out[c] = mat.Row(nil, c, m.weights)
	}
	return out
}

// ScaledRow returns class c's weights scaled by the model precision.
func (m *Model) ScaledRow(c int) []int64 {
	return precision.ScaleAll(m.Row(c), m.Precision)
}

func (m *Model) Info() Info {
	return Info{
		Name:      m.Name,
		Type:      m.Type,
		Classes:   m.Classes(),
		Features:  m.Features(),
		Precision: m.Precision,
	}
}

// PlainScores computes W·x on cleartext features.
func (m *Model) PlainScores(x []float64) ([]float64, error) {
	if len(x) != m.Features() {
		return nil, &he.FeatureCountMismatchError{Sample: 0, Actual: len(x), Expected: m.Features()}
	}
	var out mat.VecDense
	out.MulVec(m.weights, mat.NewVecDense(len(x), append([]float64(nil), x...)))
	return mat.Col(nil, 0, &out), nil
}

// ExpectedRaw computes, in the clear, the integers the encrypted pipeline
// decrypts to for features already scaled by the client precision.
func (m *Model) ExpectedRaw(scaled []int64) ([]int64, error) {
	if len(scaled) != m.Features() {
		return nil, &he.FeatureCountMismatchError{Sample: 0, Actual: len(scaled), Expected: m.Features()}
	}
	out := make([]int64, m.Classes())
	for c := range out {
		for i, w := range m.ScaledRow(c) {
			out[c] += w * scaled[i]
		}
	}
	return out, nil
}
