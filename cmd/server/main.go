// Command server runs the evaluator: it loads plaintext models, then computes
// weighted sums over encrypted features sent by clients over HTTP and,
// optionally, gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"bfv-inference/config"
	"bfv-inference/he"
	"bfv-inference/inference"
	"bfv-inference/model"
	"bfv-inference/rpc"
	"bfv-inference/server"
	"bfv-inference/service"
)

func main() {
	cfg, err := config.LoadServer(os.Args[0], os.Args[1:], config.Environ())
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

func run(ctx context.Context, cfg config.Server) error {
	lit, err := he.Preset(cfg.Preset)
	if err != nil {
		return err
	}
	backend, err := he.NewBFV(lit)
	if err != nil {
		return fmt.Errorf("failed to create BFV parameters: %w", err)
	}
	desc := backend.Describe()
	log.Printf("🔐 BFV parameters: LogN=%d, LogQ=%v, LogP=%v, T=%d", desc.LogN, desc.LogQ, desc.LogP, desc.PlaintextModulus)
	log.Printf("   Parameters ID: %s", desc.ParametersID)

	store, err := loadModels(ctx, cfg)
	if err != nil {
		return err
	}

	svc := service.New(backend, store,
		service.WithMaxConcurrent(cfg.MaxConcurrent),
		service.WithEngine(inference.NewEngine(backend, inference.WithWorkers(cfg.Workers))),
	)
	infos, err := svc.Models(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		log.Printf("📊 Model %s: %d classes x %d features (precision %d)",
			info.Name, info.Classes, info.Features, info.Precision)
	}
	if len(infos) == 0 {
		log.Printf("⚠️  No models loaded")
	}

	// The first listener to fail stops the other through ctx.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	running := 1
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		running++
		go func() { errCh <- rpc.Serve(ctx, lis, svc, int(cfg.MaxBodySize)) }()
	}
	go func() {
		errCh <- server.Serve(ctx, cfg.Addr, server.NewHandler(svc, cfg.MaxBodySize), cfg.CertFile, cfg.KeyFile)
	}()

	var firstErr error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func loadModels(ctx context.Context, cfg config.Server) (*model.Registry, error) {
	switch cfg.ModelSource {
	case config.SourceMySQL:
		store, err := model.OpenMySQL(cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach model store: %w", err)
		}
		log.Printf("Loading models from MySQL")
		return model.Snapshot(ctx, store)
	default:
		log.Printf("Loading models from %s", cfg.ModelDir)
		models, err := model.LoadDir(cfg.ModelDir, cfg.Precision)
		if err != nil {
			return nil, err
		}
		return model.NewRegistry(models...)
	}
}
