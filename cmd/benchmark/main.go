// Command benchmark measures the encrypted weighted-sum pipeline with the
// real BFV backend: timings per stage, remaining noise budget, and agreement
// with the plaintext computation.
package main

import (
	"flag"
	"log"
	"math/rand/v2"

	"bfv-inference/he"
)

func main() {
	preset := flag.String("params", "", "HE parameter preset: default or compact")
	trials := flag.Int("trials", 5, "repetitions per scenario")
	workers := flag.Int("workers", 0, "engine workers (0 uses every CPU)")
	seed := flag.Uint64("seed", 1, "seed for generated weights and features")
	flag.Parse()

	lit, err := he.Preset(*preset)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	backend, err := he.NewBFV(lit)
	if err != nil {
		log.Fatalf("❌ Failed to create BFV parameters: %v", err)
	}

	b := &bench{
		backend: backend,
		trials:  *trials,
		workers: *workers,
		rng:     rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15)),
	}
	b.printHeader()

	var results []result
	for _, sc := range creditScenarios() {
		results = append(results, b.run(sc))
	}
	for _, sc := range b.sweepScenarios() {
		results = append(results, b.run(sc))
	}
	printSummary(results)
}
