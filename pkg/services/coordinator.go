// Package services implements the service coordinator: the dependency-aware
// bootstrap orchestrator sitting on top of the state store and the priority
// loader.
//
// Callers register named services (factory, dependencies, priority tier) and
// drive initialization through Load, LoadAll, or WaitFor. The coordinator
// computes a topological load order, guarantees every dependency resolves
// before its dependent's factory runs, deduplicates and caches loads through
// the loader, and publishes lifecycle state into the store under
// "services.<name>.loading|ready|error|instance" so collaborating code can
// react without polling.
//
// Lifecycle per service:
//
//	unregistered -> registered -> loading -> ready
//	                              loading -> failed (recoverable via Reload)
//
// Thread Safety:
// The coordinator is safe for concurrent use; factories run on arbitrary
// goroutines.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/bootkit/internal/logger"
	"github.com/marmos91/bootkit/pkg/loader"
	"github.com/marmos91/bootkit/pkg/state"
)

// StatePrefix is the store subtree owned by the coordinator. Collaborating
// code must not write below it.
const StatePrefix = "services"

// Config holds coordinator construction settings.
type Config struct {
	// LoadTimeout bounds each service load. Zero means the loader default.
	LoadTimeout time.Duration

	// Priorities overrides registration priorities by service name,
	// typically sourced from pkg/config. Applied at Register time.
	Priorities map[string]loader.Priority
}

// Coordinator maintains the service dependency graph and drives
// initialization order.
//
// Create instances with NewCoordinator; the zero value is not usable.
type Coordinator struct {
	mu          sync.Mutex
	descriptors map[string]*descriptor
	names       []string // registration order, drives deterministic sorting
	instances   map[string]any
	order       []string // memoized topological order, nil when invalid

	store       *state.Store
	loader      *loader.Loader
	loadTimeout time.Duration
	overrides   map[string]loader.Priority
	metrics     Metrics
}

// NewCoordinator creates a coordinator publishing into the given store and
// scheduling through the given loader. A nil store or loader is replaced
// with a fresh default instance, which keeps single-component tests short.
//
// Pass nil metrics to disable metrics collection with zero overhead.
func NewCoordinator(st *state.Store, ld *loader.Loader, config *Config, metrics Metrics) *Coordinator {
	if st == nil {
		st = state.NewStore(nil)
	}
	if ld == nil {
		ld = loader.New(nil, nil)
	}
	c := &Coordinator{
		descriptors: make(map[string]*descriptor),
		instances:   make(map[string]any),
		store:       st,
		loader:      ld,
		metrics:     metrics,
	}
	if config != nil {
		c.loadTimeout = config.LoadTimeout
		c.overrides = config.Priorities
	}
	return c
}

// Store returns the state store the coordinator publishes into.
func (c *Coordinator) Store() *state.Store {
	return c.store
}

// Register records a service descriptor.
//
// Returns an error for an empty or dotted name, a nil factory, or an invalid
// priority. Dependency names are validated later, at order-computation time,
// so registration order does not matter.
//
// Re-registering a name replaces its descriptor, drops any cached instance,
// and invalidates the memoized load order.
func (c *Coordinator) Register(name string, factory Factory, opts *ServiceOptions) error {
	if name == "" {
		return fmt.Errorf("%w: cannot register service with empty name", ErrConfiguration)
	}
	if strings.ContainsAny(name, ".*") {
		return fmt.Errorf("%w: service name %q must not contain %q or %q", ErrConfiguration, name, ".", "*")
	}
	if factory == nil {
		return fmt.Errorf("%w: cannot register service %q with nil factory", ErrConfiguration, name)
	}

	desc := &descriptor{
		name:      name,
		factory:   factory,
		priority:  loader.PriorityNormal,
		singleton: true,
	}
	if opts != nil {
		desc.dependencies = append([]string(nil), opts.Dependencies...)
		if opts.Priority != 0 {
			desc.priority = opts.Priority
		}
		if opts.Singleton != nil {
			desc.singleton = *opts.Singleton
		}
	}
	if override, ok := c.overrides[name]; ok {
		desc.priority = override
	}
	if !desc.priority.Valid() {
		return fmt.Errorf("%w: service %q has invalid priority %d", ErrConfiguration, name, int(desc.priority))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.descriptors[name]; exists {
		logger.Warn("re-registering service", "service", name)
		delete(c.instances, name)
	} else {
		c.names = append(c.names, name)
	}
	c.descriptors[name] = desc
	c.order = nil

	if c.metrics != nil {
		c.metrics.SetRegistered(len(c.descriptors))
	}
	logger.Debug("registered service",
		"service", name,
		"tier", desc.priority.String(),
		"dependencies", desc.dependencies)
	return nil
}

// ComputeLoadOrder returns a topological order of all registered services:
// every dependency appears at a strictly lower index than its dependents.
// The order is memoized until the next registration and deterministic for a
// fixed registration sequence.
//
// A cycle yields a *CycleError, an unregistered dependency a
// *UnknownDependencyError; both match ErrConfiguration.
func (c *Coordinator) ComputeLoadOrder() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	order, err := c.computeOrderLocked()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), order...), nil
}

// Load resolves the named service, loading its declared dependencies first.
//
// The cached singleton is returned immediately when present. Otherwise
// dependencies load concurrently among themselves (recursively), then the
// factory runs through the loader under key "service:<name>" at the
// service's priority - so concurrent loads of one service share a single
// factory invocation. An instance implementing Initializer has Init awaited
// before the service is marked ready.
//
// Store transitions: loading=true before the factory, then either
// ready=true/loading=false/instance on success, or error/loading=false on
// failure. Failures are recorded for observability and still returned to the
// caller.
func (c *Coordinator) Load(ctx context.Context, name string) (any, error) {
	c.mu.Lock()
	desc, ok := c.descriptors[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	if instance, loaded := c.instances[name]; loaded {
		c.mu.Unlock()
		return instance, nil
	}
	// Validate the whole graph before any factory runs; cycles and unknown
	// dependencies are configuration errors, not load failures.
	if _, err := c.computeOrderLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	deps := append([]string(nil), desc.dependencies...)
	c.mu.Unlock()

	if err := c.loadDependencies(ctx, name, deps); err != nil {
		return nil, err
	}

	c.store.Set(servicePath(name, "loading"), true)
	start := time.Now()

	instance, err := c.loader.Load(ctx, desc.priority, serviceKey(name), func(ctx context.Context) (any, error) {
		value, err := desc.factory(ctx)
		if err != nil {
			return nil, err
		}
		if init, ok := value.(Initializer); ok {
			if err := init.Init(ctx); err != nil {
				return nil, fmt.Errorf("init failed: %w", err)
			}
		}
		return value, nil
	}, c.loadOptions(desc))

	if err != nil {
		c.store.BatchUpdate(map[string]any{
			servicePath(name, "error"):   err.Error(),
			servicePath(name, "loading"): false,
		})
		if c.metrics != nil {
			c.metrics.ObserveServiceLoad(name, "failure", time.Since(start))
		}
		logger.Error("service failed to load",
			"service", name,
			"tier", desc.priority.String(),
			"error", err)
		return nil, fmt.Errorf("load service %q: %w", name, err)
	}

	c.mu.Lock()
	if desc.singleton {
		c.instances[name] = instance
	}
	ready := len(c.instances)
	c.mu.Unlock()

	c.store.BatchUpdate(map[string]any{
		servicePath(name, "ready"):    true,
		servicePath(name, "loading"):  false,
		servicePath(name, "instance"): instance,
	})
	if c.metrics != nil {
		c.metrics.ObserveServiceLoad(name, "success", time.Since(start))
		c.metrics.SetReady(ready)
	}
	logger.Info("service ready",
		"service", name,
		"tier", desc.priority.String(),
		"duration_ms", time.Since(start).Milliseconds())
	return instance, nil
}

// loadDependencies loads all declared dependencies of a service
// concurrently, failing with the first dependency error encountered.
func (c *Coordinator) loadDependencies(ctx context.Context, dependent string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	errs := make([]error, len(deps))
	for i, dep := range deps {
		wg.Add(1)
		go func(i int, dep string) {
			defer wg.Done()
			_, errs[i] = c.Load(ctx, dep)
		}(i, dep)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("service %q dependency %q: %w", dependent, deps[i], err)
		}
	}
	return nil
}

// LoadAll loads every registered service, tier by tier.
//
// The order is computed first; a configuration error aborts before any
// factory runs. Tiers are processed strictly by ascending urgency: all
// services of a tier settle (success or failure) before the next tier
// starts. Within a tier services load concurrently. One failing service
// never blocks the rest; outcomes are collected per service and returned
// keyed by name, nil for success.
func (c *Coordinator) LoadAll(ctx context.Context) (map[string]error, error) {
	c.mu.Lock()
	order, err := c.computeOrderLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	order = append([]string(nil), order...)
	tiers := c.groupByTier(order)
	c.mu.Unlock()

	logger.Info("loading all services", "count", len(order))

	results := make(map[string]error, len(order))
	var resultsMu sync.Mutex

	for tier := int(loader.PriorityCritical); tier <= int(loader.PriorityLazy); tier++ {
		names := tiers[tier]
		if len(names) == 0 {
			continue
		}

		var wg sync.WaitGroup
		for _, name := range names {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_, err := c.Load(ctx, name)
				resultsMu.Lock()
				results[name] = err
				resultsMu.Unlock()
			}(name)
		}
		wg.Wait()
	}

	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		logger.Warn("load completed with failures",
			"total", len(results),
			"failed", failed)
	} else {
		logger.Info("all services ready", "count", len(results))
	}
	return results, nil
}

// Get returns the already-resolved singleton instance for name.
//
// Fails with ErrNotLoaded when the service has not resolved (or is not a
// singleton), ErrNotRegistered when the name is unknown.
func (c *Coordinator) Get(name string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if instance, ok := c.instances[name]; ok {
		return instance, nil
	}
	if _, ok := c.descriptors[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}
	return nil, fmt.Errorf("%w: %q", ErrNotLoaded, name)
}

// WaitFor blocks until the named service is ready, returning immediately if
// it already is. Otherwise it waits on the service's ready flag in the store
// and returns the resolved instance. A timeout surfaces
// state.ErrWaitTimeout.
func (c *Coordinator) WaitFor(ctx context.Context, name string, timeout time.Duration) (any, error) {
	if instance, err := c.Get(name); err == nil {
		return instance, nil
	} else if errors.Is(err, ErrNotRegistered) {
		return nil, err
	}

	if _, err := c.store.WaitFor(ctx, servicePath(name, "ready"), timeout); err != nil {
		return nil, fmt.Errorf("waiting for service %q: %w", name, err)
	}
	return c.Get(name)
}

// Reload forces a fresh load of the named service: the cached instance, the
// loader cache entry, and the service's store subtree are all evicted before
// loading again. The returned instance is freshly constructed, never the old
// one. Recovers services in the failed state.
func (c *Coordinator) Reload(ctx context.Context, name string) (any, error) {
	c.mu.Lock()
	_, ok := c.descriptors[name]
	delete(c.instances, name)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotRegistered, name)
	}

	c.loader.Evict(serviceKey(name))
	c.store.Delete(StatePrefix + "." + name)

	logger.Info("reloading service", "service", name)
	return c.Load(ctx, name)
}

// Clear tears the coordinator down: cached instances implementing Destroyer
// are destroyed (errors and panics logged, teardown continues), then all
// descriptors, the memoized order, and the coordinator's store subtree are
// dropped. The loader cache entries for services are evicted as well.
func (c *Coordinator) Clear(ctx context.Context) {
	c.mu.Lock()
	instances := c.instances
	names := c.names
	c.descriptors = make(map[string]*descriptor)
	c.instances = make(map[string]any)
	c.names = nil
	c.order = nil
	c.mu.Unlock()

	// Destroy in reverse registration order so later services release
	// resources before what they were built on.
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		instance, ok := instances[name]
		if !ok {
			continue
		}
		if d, ok := instance.(Destroyer); ok {
			destroy(ctx, name, d)
		}
		c.loader.Evict(serviceKey(name))
	}

	c.store.Delete(StatePrefix)
	if c.metrics != nil {
		c.metrics.SetRegistered(0)
		c.metrics.SetReady(0)
	}
	logger.Info("coordinator cleared", "services", len(names))
}

// destroy runs one instance's Destroy, logging failures and recovering
// panics so teardown always continues.
func destroy(ctx context.Context, name string, d Destroyer) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("service destructor panicked", "service", name, "panic", r)
		}
	}()
	if err := d.Destroy(ctx); err != nil {
		logger.Warn("service destructor failed", "service", name, "error", err)
	}
}

// Registered returns all registered service names in registration order.
// The returned slice is a copy and safe to modify.
func (c *Coordinator) Registered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

// IsLoaded reports whether the named service has a resolved cached instance.
func (c *Coordinator) IsLoaded(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.instances[name]
	return ok
}

// Loaded returns the names of all resolved services, sorted.
func (c *Coordinator) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.instances))
	for name := range c.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadOptions builds the loader options for one service load.
func (c *Coordinator) loadOptions(desc *descriptor) *loader.Options {
	cache := desc.singleton
	return &loader.Options{
		Cache:   &cache,
		Timeout: c.loadTimeout,
	}
}
