// Command client encrypts a CSV of feature rows, asks the evaluator for a
// model's weighted sums and prints the decrypted predictions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bfv-inference/client"
	"bfv-inference/config"
	"bfv-inference/he"
	"bfv-inference/model"
	"bfv-inference/rpc"
	"bfv-inference/session"
)

func main() {
	cfg, err := config.LoadClient(os.Args[0], os.Args[1:], config.Environ())
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, cfg config.Client) error {
	rows, err := readFeatures(cfg.Input)
	if err != nil {
		return err
	}

	lit, err := he.Preset(cfg.Preset)
	if err != nil {
		return err
	}
	backend, err := he.NewBFV(lit)
	if err != nil {
		return fmt.Errorf("failed to create BFV parameters: %w", err)
	}

	start := time.Now()
	sess, err := session.NewManager(backend, session.WithMinBudget(cfg.MinBudget)).CreateKeys()
	if err != nil {
		return err
	}
	defer sess.Close()
	log.Printf("🔑 Session %s ready in %.2f ms (public key %s)",
		sess.ID(), float64(time.Since(start).Microseconds())/1000.0, sess.Fingerprint())

	if cfg.KeyOut != "" {
		if err := sess.SaveKey(cfg.KeyOut); err != nil {
			return fmt.Errorf("failed to write public key: %w", err)
		}
		log.Printf("Wrote public key to %s", cfg.KeyOut)
	}

	transport, closeFn, err := dial(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	preds, err := client.Predict(ctx, sess, transport, cfg.Model, rows, client.Options{Precision: cfg.Precision})
	if err != nil {
		return err
	}
	log.Printf("✅ %d predictions from %s", len(preds), cfg.Model)

	printPredictions(preds)
	return nil
}

func readFeatures(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := model.ReadRows(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func dial(cfg config.Client) (client.Transport, func(), error) {
	if cfg.Transport == config.TransportGRPC {
		c, err := rpc.Dial(cfg.GRPCAddr)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { c.Close() }, nil
	}
	return client.NewHTTP(cfg.ServerURL, nil), func() {}, nil
}

func printPredictions(preds []client.Prediction) {
	fmt.Printf("%-8s %-6s %-40s %s\n", "sample", "class", "probabilities", "sums")
	for i, p := range preds {
		probs := make([]string, len(p.Probabilities))
		for c, q := range p.Probabilities {
			probs[c] = fmt.Sprintf("%.4f", q)
		}
		fmt.Printf("%-8d %-6d %-40s %v\n", i, p.Class, strings.Join(probs, " "), p.Sums)
	}
}
