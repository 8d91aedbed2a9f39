package services

import (
	"context"

	"github.com/marmos91/bootkit/pkg/loader"
)

// Factory constructs a service instance. It runs at most once per cache
// lifetime for a singleton service, on an arbitrary goroutine, after all of
// the service's declared dependencies have loaded.
type Factory func(ctx context.Context) (any, error)

// Initializer is the optional capability for instances that need async setup
// after construction. When a factory's return value implements it, Init runs
// once before the service is marked ready; an Init failure fails the load.
type Initializer interface {
	Init(ctx context.Context) error
}

// Destroyer is the optional capability for instances that hold resources.
// Destroy runs during Coordinator.Clear; errors are logged and do not stop
// the teardown of remaining services.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// ServiceOptions tune a single registration. Nil fields fall back to the
// defaults: no dependencies, PriorityNormal, singleton.
type ServiceOptions struct {
	// Dependencies names services that must load before this one. Every
	// name must be registered by the time an order is computed.
	Dependencies []string

	// Priority is the scheduling tier. Zero means PriorityNormal.
	Priority loader.Priority

	// Singleton controls instance caching. Nil means true: the factory
	// runs once and every load observes the same instance.
	Singleton *bool
}

// descriptor is the immutable registration record for one service.
type descriptor struct {
	name         string
	factory      Factory
	dependencies []string
	priority     loader.Priority
	singleton    bool
}

// servicePath returns the store path for one lifecycle field of a service.
func servicePath(name, field string) string {
	return StatePrefix + "." + name + "." + field
}

// serviceKey returns the loader cache key for a service.
func serviceKey(name string) string {
	return "service:" + name
}
