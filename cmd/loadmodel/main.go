// Command loadmodel reads a coefficient CSV and stores it as a model in MySQL.
//
//	loadmodel -name FinancialFraud -file coefs.csv -dsn 'user:pass@tcp(localhost:3306)/inference'
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"bfv-inference/model"
	"bfv-inference/precision"
)

func main() {
	var (
		name   = flag.String("name", "", "model name (letters and digits)")
		file   = flag.String("file", "", "coefficient CSV, one row per class")
		prec   = flag.Int64("precision", precision.Default, "weight precision factor")
		dsn    = flag.String("dsn", os.Getenv("INFER_MYSQL_DSN"), "MySQL DSN")
		dryRun = flag.Bool("dry-run", false, "validate and print the model without storing it")
	)
	flag.Parse()

	if *name == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	m, err := model.LoadFile(*file, *name, *prec)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	info := m.Info()
	log.Printf("📊 %s: %d classes x %d features (precision %d)", info.Name, info.Classes, info.Features, info.Precision)

	if *dryRun {
		for c := 0; c < m.Classes(); c++ {
			log.Printf("   class %d: %v -> %v", c, m.Row(c), m.ScaledRow(c))
		}
		return
	}
	if *dsn == "" {
		log.Fatalf("❌ -dsn or INFER_MYSQL_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := model.OpenMySQL(*dsn)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("❌ failed to create schema: %v", err)
	}
	if err := store.Put(ctx, m); err != nil {
		log.Fatalf("❌ failed to store model: %v", err)
	}
	log.Printf("✅ Stored %s", info.Name)
}
