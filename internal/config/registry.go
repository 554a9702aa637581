package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
)

// ErrDriverNotRegistered is returned by [Registry.Open] when no factory has
// been registered under the configured store driver.
var ErrDriverNotRegistered = errors.New("config: store driver not registered")

// BackendFactory opens a revision backend from its store configuration.
type BackendFactory func(ctx context.Context, cfg StoreConfig) (revision.Backend, error)

// Registry maps store driver names to backend factories. Keeping the
// drivers out of this package lets binaries link only the ones they need.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[StoreDriver]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[StoreDriver]BackendFactory)}
}

// Register registers factory under driver. Subsequent calls with the same
// driver overwrite the previous registration.
func (r *Registry) Register(driver StoreDriver, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Drivers returns the registered driver names in sorted order.
func (r *Registry) Drivers() []StoreDriver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StoreDriver, 0, len(r.factories))
	for d := range r.factories {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// Open instantiates the backend registered under cfg.Driver.
func (r *Registry) Open(ctx context.Context, cfg StoreConfig) (revision.Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrDriverNotRegistered, cfg.Driver)
	}
	b, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: open %s store: %w", cfg.Driver, err)
	}
	return b, nil
}
