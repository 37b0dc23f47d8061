package client

import (
	"context"
	"fmt"
	"log"
	"time"

	"bfv-inference/he"
	"bfv-inference/precision"
	"bfv-inference/session"
)

// Prediction is the client's view of one sample's result.
type Prediction struct {
	// Raw is the decrypted integer per class, scaled by P1*P2.
	Raw []int64 `json:"raw"`
	// Sums is Raw rescaled with truncating division.
	Sums []int64 `json:"sums"`
	// Logits is Raw rescaled without truncation.
	Logits        []float64 `json:"logits"`
	Probabilities []float64 `json:"probabilities"`
	Class         int       `json:"class"`
}

// Options tune Predict.
type Options struct {
	// Precision is the feature factor P1. Zero uses the model's precision.
	Precision int64
	// Link overrides the link picked by LinkFor.
	Link Link
}

// Predict runs one batch through a remote model: it checks that the
// evaluator uses the session's parameters, encrypts and frames rows, sends
// them, then decrypts (with the noise guard) and rescales the results.
func Predict(ctx context.Context, sess *session.Session, t Transport, name string, rows [][]float64, opts Options) ([]Prediction, error) {
	desc, err := t.Params(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch parameters: %w", err)
	}
	if desc.ParametersID != sess.ParametersID() {
		return nil, fmt.Errorf("%w: server uses %s, session uses %s",
			he.ErrIncompatibleParameters, desc.ParametersID, sess.ParametersID())
	}

	info, err := t.Model(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model %s: %w", name, err)
	}
	p1 := opts.Precision
	if p1 == 0 {
		p1 = info.Precision
	}
	link := opts.Link
	if link == nil {
		link = LinkFor(info.Classes)
	}

	start := time.Now()
	body, err := sess.Seal(rows, p1)
	if err != nil {
		return nil, err
	}
	encrypted := time.Now()
	log.Printf("⏱️  Encryption: %.2f ms (%d samples, %d bytes)",
		float64(encrypted.Sub(start).Microseconds())/1000.0, len(rows), len(body))

	out, err := t.Infer(ctx, name, body)
	if err != nil {
		return nil, err
	}
	received := time.Now()
	log.Printf("⏱️  Round trip: %.2f ms (%d bytes back)",
		float64(received.Sub(encrypted).Microseconds())/1000.0, len(out))

	raw, err := sess.Open(out)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(rows) {
		return nil, fmt.Errorf("%w: %d results for %d samples", he.ErrCorruptStream, len(raw), len(rows))
	}
	log.Printf("⏱️  Decryption: %.2f ms", float64(time.Since(received).Microseconds())/1000.0)

	preds := make([]Prediction, len(raw))
	for i, r := range raw {
		p := Prediction{
			Raw:    r,
			Sums:   make([]int64, len(r)),
			Logits: make([]float64, len(r)),
		}
		for c, v := range r {
			p.Sums[c] = precision.Rescale(v, p1, info.Precision)
			p.Logits[c] = precision.Real(v, p1, info.Precision)
		}
		p.Probabilities = link.Probabilities(p.Logits)
		p.Class = link.Class(p.Probabilities)
		preds[i] = p
	}
	return preds, nil
}
