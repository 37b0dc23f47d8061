// Package service is the evaluator's request pipeline, shared by the HTTP
// and gRPC transports: validate the model name, look the model up, open the
// envelope, compute, and seal the result.
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"bfv-inference/codec"
	"bfv-inference/envelope"
	"bfv-inference/he"
	"bfv-inference/inference"
	"bfv-inference/model"
)

// Service evaluates inference requests. It is safe for concurrent use.
type Service struct {
	backend he.Backend
	store   model.Store
	engine  *inference.Engine
	slots   chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithMaxConcurrent bounds how many requests compute at once. Requests
// beyond the bound wait for a slot or for their context to end.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithEngine replaces the default engine.
func WithEngine(e *inference.Engine) Option {
	return func(s *Service) { s.engine = e }
}

func New(backend he.Backend, store model.Store, opts ...Option) *Service {
	s := &Service{backend: backend, store: store}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = inference.NewEngine(backend)
	}
	return s
}

// Params describes the scheme parameters clients must encrypt under.
func (s *Service) Params() he.Description { return s.backend.Describe() }

// Model returns the public description of one model.
func (s *Service) Model(ctx context.Context, name string) (model.Info, error) {
	if err := model.ValidateName(name); err != nil {
		return model.Info{}, err
	}
	m, err := s.store.Get(ctx, name)
	if err != nil {
		return model.Info{}, err
	}
	return m.Info(), nil
}

// Models lists every model.
func (s *Service) Models(ctx context.Context) ([]model.Info, error) {
	names, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]model.Info, 0, len(names))
	for _, name := range names {
		info, err := s.Model(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Infer runs one request: body is an envelope carrying the encrypted batch,
// the returned bytes are an envelope carrying one ciphertext per class per
// sample.
func (s *Service) Infer(ctx context.Context, name string, body []byte) ([]byte, error) {
	if err := model.ValidateName(name); err != nil {
		return nil, err
	}
	m, err := s.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for a worker: %w", ctx.Err())
		}
	}

	start := time.Now()

	stream, sizes, err := envelope.Open(body)
	if err != nil {
		return nil, err
	}
	batch, err := codec.Decode(s.backend, stream, sizes)
	if err != nil {
		return nil, err
	}
	decoded := time.Now()
	log.Printf("⏱️  Deserialization: %.2f ms (%d samples, %d bytes)",
		float64(decoded.Sub(start).Microseconds())/1000.0, len(batch), len(body))

	res, stats, err := s.engine.Compute(ctx, m, inference.Query{Batch: batch})
	if err != nil {
		return nil, err
	}
	computed := time.Now()
	log.Printf("⏱️  Weighted sums: %.2f ms (%d samples x %d classes, %d multiplies, %d zero weights skipped)",
		float64(computed.Sub(decoded).Microseconds())/1000.0,
		stats.Samples, stats.Classes, stats.Multiplies, stats.SkippedTerms)

	out, err := envelope.Pack(s.backend, res.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize result: %w", err)
	}
	log.Printf("⏱️  Serialization: %.2f ms (%d bytes)",
		float64(time.Since(computed).Microseconds())/1000.0, len(out))
	log.Printf("✅ %s: %d samples in %.2f ms", name, len(batch),
		float64(time.Since(start).Microseconds())/1000.0)

	return out, nil
}
