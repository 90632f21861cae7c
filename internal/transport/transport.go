// Package transport builds the watermill publisher/subscriber pairs the queue
// client rides on. Each backend registers itself by name; the gateway selects
// one through configuration.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// PubSub is a publisher/subscriber pair sharing one delivery pattern.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Transport bundles the two delivery patterns the gateway needs: durable
// point-to-point queues for indexing jobs and fanout exchanges for
// completion broadcasts.
type Transport struct {
	Queue  PubSub
	Fanout PubSub
}

// Close shuts down every distinct publisher and subscriber. Instances shared
// between roles (the channel transport uses one for all four) are closed once.
func (t Transport) Close() error {
	var errs []error
	seen := make(map[any]bool)

	for _, closer := range []interface{ Close() error }{
		t.Queue.Publisher, t.Queue.Subscriber,
		t.Fanout.Publisher, t.Fanout.Subscriber,
	} {
		if closer == nil || seen[closer] {
			continue
		}
		seen[closer] = true
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config provides the settings transports need without depending on the full
// config package.
type Config interface {
	GetTransport() string
	GetRabbitURL() string
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Registry maps transport names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global transport registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a transport builder under the given name.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build creates a transport using the builder registered for the config's
// transport name.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	name := cfg.GetTransport()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return Transport{}, fmt.Errorf("unknown transport: %q (registered: %v)", name, r.Names())
	}

	return builder(ctx, cfg, logger)
}

// Names returns the registered transport names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Register adds a transport builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
