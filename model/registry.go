package model

import (
	"context"
	"fmt"
	"sort"

	"bfv-inference/he"
)

// Store looks models up by name.
type Store interface {
	Get(ctx context.Context, name string) (*Model, error)
	List(ctx context.Context) ([]string, error)
}

// Registry is an in-memory Store filled once before serving. It is never
// written afterwards, so concurrent reads need no locking.
type Registry struct {
	models map[string]*Model
	names  []string
}

// NewRegistry indexes models by name. Duplicate names are an error.
func NewRegistry(models ...*Model) (*Registry, error) {
	r := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if _, dup := r.models[m.Name]; dup {
			return nil, fmt.Errorf("duplicate model %q", m.Name)
		}
		r.models[m.Name] = m
		r.names = append(r.names, m.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Snapshot copies every model of src into a Registry.
func Snapshot(ctx context.Context, src Store) (*Registry, error) {
	names, err := src.List(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]*Model, 0, len(names))
	for _, name := range names {
		m, err := src.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return NewRegistry(models...)
}

func (r *Registry) Get(_ context.Context, name string) (*Model, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", he.ErrModelNotFound, name)
	}
	return m, nil
}

func (r *Registry) List(context.Context) ([]string, error) {
	return append([]string(nil), r.names...), nil
}

// Len reports how many models are registered.
func (r *Registry) Len() int { return len(r.models) }
