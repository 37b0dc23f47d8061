// Package inference evaluates linear models over encrypted feature vectors.
package inference

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"bfv-inference/he"
	"bfv-inference/model"
	"bfv-inference/precision"
)

// Query is one request's batch of encrypted samples.
type Query struct {
	Batch he.Batch
}

// Result holds one row of M class ciphertexts per input sample, in input
// order.
type Result struct {
	Rows he.Batch
}

// Stats describes the work a Compute call performed.
type Stats struct {
	Samples        int
	Classes        int
	Multiplies     int
	SkippedTerms   int
	EncodedWeights int
}

// Engine computes per-class weighted sums. It holds no per-request state and
// is safe for concurrent use when its evaluator is.
type Engine struct {
	eval    he.Evaluator
	workers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds how many samples are evaluated in parallel. Values
// below one mean sequential evaluation.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// NewEngine returns an engine using one worker per CPU by default.
func NewEngine(eval he.Evaluator, opts ...Option) *Engine {
	e := &Engine{eval: eval, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// encodedClass is one class's non-zero scaled weights and their plaintexts.
type encodedClass struct {
	features []int
	weights  []he.Plaintext
}

// Compute returns, for every sample and every class, the encryption of
// Σ x_i·trunc(w_i·P). Terms whose scaled weight is zero are skipped; a class
// with no terms left yields AddMany of nothing, an encrypted zero.
//
// The batch is validated before any ciphertext is touched, and the result is
// all-or-nothing: on error or cancellation no rows are returned.
func (e *Engine) Compute(ctx context.Context, m *model.Model, q Query) (Result, Stats, error) {
	stats := Stats{Samples: len(q.Batch), Classes: m.Classes()}

	for i, sample := range q.Batch {
		if len(sample) != m.Features() {
			return Result{}, stats, &he.FeatureCountMismatchError{Sample: i, Actual: len(sample), Expected: m.Features()}
		}
	}
	if len(q.Batch) == 0 {
		return Result{Rows: he.Batch{}}, stats, nil
	}

	classes, err := e.encodeWeights(m, &stats)
	if err != nil {
		return Result{}, stats, err
	}
	for _, c := range classes {
		stats.Multiplies += len(c.features) * len(q.Batch)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rows := make(he.Batch, len(q.Batch))
	jobs := make(chan int)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	workers := e.workers
	if workers > len(q.Batch) {
		workers = len(q.Batch)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				row, err := e.safeEvaluate(q.Batch[i], classes)
				if err != nil {
					fail(fmt.Errorf("sample %d: %w", i, err))
					continue
				}
				rows[i] = row
			}
		}()
	}

dispatch:
	for i := range q.Batch {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return Result{}, stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return Result{}, stats, fmt.Errorf("inference cancelled: %w", err)
	}
	return Result{Rows: rows}, stats, nil
}

func (e *Engine) encodeWeights(m *model.Model, stats *Stats) ([]encodedClass, error) {
	classes := make([]encodedClass, m.Classes())
	for c := range classes {
		for i, w := range m.Row(c) {
			scaled, err := precision.ScaleChecked(w, m.Precision, 0)
			if err != nil {
				return nil, fmt.Errorf("weight %d of class %d: %w", i, c, err)
			}
			if scaled == 0 {
				stats.SkippedTerms++
				continue
			}
			pt, err := e.eval.EncodeInteger(scaled)
			if err != nil {
				return nil, fmt.Errorf("failed to encode weight %d of class %d: %w", i, c, err)
			}
			classes[c].features = append(classes[c].features, i)
			classes[c].weights = append(classes[c].weights, pt)
			stats.EncodedWeights++
		}
	}
	return classes, nil
}

// safeEvaluate turns a panic in the evaluator into an error. Workers run
// outside the caller's goroutine, so an unrecovered panic would end the
// process rather than the request.
func (e *Engine) safeEvaluate(sample he.Sample, classes []encodedClass) (row he.Sample, err error) {
	defer func() {
		if r := recover(); r != nil {
			row, err = nil, fmt.Errorf("evaluation panicked: %v", r)
		}
	}()
	return e.evaluateSample(sample, classes)
}

func (e *Engine) evaluateSample(sample he.Sample, classes []encodedClass) (he.Sample, error) {
	row := make(he.Sample, len(classes))
	for c, class := range classes {
		terms := make([]he.Ciphertext, len(class.features))
		for k, i := range class.features {
			term, err := e.eval.MultiplyPlain(sample[i], class.weights[k])
			if err != nil {
				return nil, fmt.Errorf("multiplication failed at class %d feature %d: %w", c, i, err)
			}
			terms[k] = term
		}
		sum, err := e.eval.AddMany(terms)
		if err != nil {
			return nil, fmt.Errorf("accumulation failed at class %d: %w", c, err)
		}
		row[c] = sum
	}
	return row, nil
}
