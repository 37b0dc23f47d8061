package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"bfv-inference/envelope"
	"bfv-inference/he"
	"bfv-inference/inference"
	"bfv-inference/model"
	"bfv-inference/precision"
	"bfv-inference/session"
)

var separator = strings.Repeat("=", 78)

// scenario is one model and batch to push through the pipeline.
type scenario struct {
	Name     string
	Weights  [][]float64
	Features [][]float64
}

// creditScenarios is a five-feature credit scoring model against a handful
// of risk profiles (age, loan/income, debt/income, credit amount, income).
func creditScenarios() []scenario {
	weights := [][]float64{{-0.2501752295, 0.0137090654, 0.0123900347, -0.0426762083, 0.0062886554}}
	return []scenario{{
		Name:    "CreditScoring",
		Weights: weights,
		Features: [][]float64{
			{0.45, 0.15, 0.20, 0.5, 0.8},  // low risk
			{0.30, 0.35, 0.45, 1.2, 0.5},  // medium risk
			{0.25, 0.55, 0.60, 2.0, 0.35}, // high risk
			{0.55, 0.10, 0.15, 0.3, 1.0},  // very low risk
			{0.35, 0.30, 0.35, 0.8, 0.6},  // boundary
			{5.0, 3.5, 5.0, 0.0, 8.0},     // large features
			{0.1, 0.1, 0.1, 5.0, 0.1},     // low logit
		},
	}}
}

// sweepScenarios grows the feature count and the weight magnitude, the two
// things that drive noise growth in a plaintext weighted sum.
func (b *bench) sweepScenarios() []scenario {
	var out []scenario
	for _, n := range []int{4, 16, 64} {
		for _, mag := range []float64{1, 100, 10000} {
			out = append(out, scenario{
				Name:     fmt.Sprintf("F%dW%g", n, mag),
				Weights:  b.matrix(3, n, mag),
				Features: b.matrix(8, n, 10),
			})
		}
	}
	return out
}

func (b *bench) matrix(rows, cols int, mag float64) [][]float64 {
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = (2*b.rng.Float64() - 1) * mag
		}
	}
	return out
}

type bench struct {
	backend *he.BFV
	trials  int
	workers int
	rng     *rand.Rand
}

// result is what one scenario measured. Timings are in milliseconds.
type result struct {
	Name       string
	Samples    int
	Features   int
	Classes    int
	Multiplies int

	Encrypt []float64
	Compute []float64
	Decrypt []float64

	Budget    int
	Exact     bool
	MaxAbsErr float64
}

func (b *bench) printHeader() {
	desc := b.backend.Describe()
	fmt.Println(separator)
	fmt.Println("🔬 BFV WEIGHTED-SUM BENCHMARK")
	fmt.Println(separator)
	fmt.Printf("LogN=%d, LogQ=%v, LogP=%v, T=%d\n", desc.LogN, desc.LogQ, desc.LogP, desc.PlaintextModulus)
	fmt.Printf("Trials per scenario: %d\n", b.trials)
}

func (b *bench) run(sc scenario) result {
	m, err := model.New(sc.Name, sc.Weights, precision.Default)
	if err != nil {
		log.Fatalf("❌ %s: %v", sc.Name, err)
	}
	sess, err := session.NewManager(b.backend).CreateKeys()
	if err != nil {
		log.Fatalf("❌ %s: %v", sc.Name, err)
	}
	defer sess.Close()

	var opts []inference.Option
	if b.workers > 0 {
		opts = append(opts, inference.WithWorkers(b.workers))
	}
	engine := inference.NewEngine(b.backend, opts...)

	fmt.Println("\n" + strings.Repeat("-", 78))
	fmt.Printf("🧪 %s: %d samples x %d features, %d classes\n",
		sc.Name, len(sc.Features), m.Features(), m.Classes())

	res := result{Name: sc.Name, Samples: len(sc.Features), Features: m.Features(), Classes: m.Classes()}
	var raw [][]int64
	for trial := 0; trial < b.trials; trial++ {
		start := time.Now()
		body, err := sess.Seal(sc.Features, precision.Default)
		if err != nil {
			log.Fatalf("❌ %s: encryption failed: %v", sc.Name, err)
		}
		encrypted := time.Now()

		batch, err := envelope.Unpack(b.backend, body)
		if err != nil {
			log.Fatalf("❌ %s: %v", sc.Name, err)
		}
		out, st, err := engine.Compute(context.Background(), m, inference.Query{Batch: batch})
		if err != nil {
			log.Fatalf("❌ %s: compute failed: %v", sc.Name, err)
		}
		computed := time.Now()

		if trial == 0 {
			res.Multiplies = st.Multiplies
			if res.Budget, err = sess.MinBudget(out.Rows); err != nil {
				log.Fatalf("❌ %s: %v", sc.Name, err)
			}
		}
		if raw, err = sess.DecryptResult(out.Rows); err != nil {
			log.Fatalf("❌ %s: decryption failed: %v", sc.Name, err)
		}

		res.Encrypt = append(res.Encrypt, ms(encrypted.Sub(start)))
		res.Compute = append(res.Compute, ms(computed.Sub(encrypted)))
		res.Decrypt = append(res.Decrypt, ms(time.Since(computed)))
	}

	res.Exact = true
	for i, x := range sc.Features {
		want, err := m.ExpectedRaw(precision.ScaleAll(x, precision.Default))
		if err != nil {
			log.Fatalf("❌ %s: %v", sc.Name, err)
		}
		plain, err := m.PlainScores(x)
		if err != nil {
			log.Fatalf("❌ %s: %v", sc.Name, err)
		}
		for c := range want {
			if raw[i][c] != want[c] {
				res.Exact = false
			}
			got := precision.Real(raw[i][c], precision.Default, m.Precision)
			res.MaxAbsErr = math.Max(res.MaxAbsErr, math.Abs(got-plain[c]))
		}
	}

	mean, _ := stats.Mean(res.Compute)
	fmt.Printf("   ⏱️  Compute: %.2f ms mean over %d trials (%d multiplies)\n", mean, b.trials, res.Multiplies)
	fmt.Printf("   📉 Remaining noise budget: %d bits\n", res.Budget)
	fmt.Printf("   Exact integer match: %v, max |real error|: %.3e\n", res.Exact, res.MaxAbsErr)
	return res
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func summarize(xs []float64) (mean, median, stddev float64) {
	mean, _ = stats.Mean(xs)
	median, _ = stats.Median(xs)
	stddev, _ = stats.StandardDeviation(xs)
	return mean, median, stddev
}

func printSummary(results []result) {
	fmt.Println("\n" + separator)
	fmt.Println("📈 SUMMARY")
	fmt.Println(separator)
	fmt.Printf("%-14s %4s %4s %3s │ %10s %10s %10s │ %10s │ %6s %5s\n",
		"Scenario", "N", "F", "M", "enc (ms)", "eval (ms)", "σ eval", "dec (ms)", "budget", "exact")

	minBudget := -1
	var perMul []float64
	for _, r := range results {
		enc, _, _ := summarize(r.Encrypt)
		_, evalMed, evalSd := summarize(r.Compute)
		dec, _, _ := summarize(r.Decrypt)
		fmt.Printf("%-14s %4d %4d %3d │ %10.2f %10.2f %10.2f │ %10.2f │ %6d %5v\n",
			r.Name, r.Samples, r.Features, r.Classes, enc, evalMed, evalSd, dec, r.Budget, r.Exact)

		if minBudget < 0 || r.Budget < minBudget {
			minBudget = r.Budget
		}
		if r.Multiplies > 0 {
			perMul = append(perMul, evalMed/float64(r.Multiplies))
		}
	}

	if len(perMul) > 0 {
		mean, median, sd := summarize(perMul)
		fmt.Printf("\n📊 Per multiply: mean %.4f ms, median %.4f ms, σ %.4f ms\n", mean, median, sd)
	}

	fmt.Println("\n⚠️  Noise Budget:")
	switch {
	case minBudget <= 0:
		fmt.Println("   🔴 CRITICAL: a result has no budget left; use larger parameters")
	case minBudget < 20:
		fmt.Printf("   🟡 WARNING: lowest remaining budget is %d bits\n", minBudget)
	default:
		fmt.Printf("   🟢 SAFE: lowest remaining budget is %d bits\n", minBudget)
	}
	fmt.Println(separator)
}
