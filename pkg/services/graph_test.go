package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/bootkit/pkg/loader"
)

// registerNamed registers a trivial service with the given dependencies.
func registerNamed(t *testing.T, c *Coordinator, name string, deps ...string) {
	t.Helper()
	err := c.Register(name, func(context.Context) (any, error) { return name, nil }, &ServiceOptions{
		Dependencies: deps,
	})
	require.NoError(t, err)
}

// assertBefore asserts that a appears at a strictly lower index than b.
func assertBefore(t *testing.T, order []string, a, b string) {
	t.Helper()
	ia, ib := -1, -1
	for i, name := range order {
		if name == a {
			ia = i
		}
		if name == b {
			ib = i
		}
	}
	require.NotEqual(t, -1, ia, "%q missing from order %v", a, order)
	require.NotEqual(t, -1, ib, "%q missing from order %v", b, order)
	assert.Less(t, ia, ib, "expected %q before %q in %v", a, b, order)
}

func TestComputeLoadOrderRespectsDependencies(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, nil, nil)
	registerNamed(t, c, "config")
	registerNamed(t, c, "database", "config")
	registerNamed(t, c, "cache", "config")
	registerNamed(t, c, "api", "database", "cache")

	order, err := c.ComputeLoadOrder()
	require.NoError(t, err)
	require.Len(t, order, 4)

	assertBefore(t, order, "config", "database")
	assertBefore(t, order, "config", "cache")
	assertBefore(t, order, "database", "api")
	assertBefore(t, order, "cache", "api")
}

func TestComputeLoadOrderIsDeterministic(t *testing.T) {
	t.Parallel()

	build := func() *Coordinator {
		c := NewCoordinator(nil, nil, nil, nil)
		registerNamed(t, c, "a")
		registerNamed(t, c, "b", "a")
		registerNamed(t, c, "c", "a")
		registerNamed(t, c, "d", "b", "c")
		return c
	}

	first, err := build().ComputeLoadOrder()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := build().ComputeLoadOrder()
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestComputeLoadOrderDetectsCycle(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, nil, nil)
	registerNamed(t, c, "a", "b")
	registerNamed(t, c, "b", "c")
	registerNamed(t, c, "c", "a")

	_, err := c.ComputeLoadOrder()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.GreaterOrEqual(t, len(cycleErr.Path), 2)
	assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
}

func TestComputeLoadOrderSelfCycle(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, nil, nil)
	registerNamed(t, c, "narcissist", "narcissist")

	_, err := c.ComputeLoadOrder()
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"narcissist", "narcissist"}, cycleErr.Path)
}

func TestComputeLoadOrderUnknownDependency(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, nil, nil)
	registerNamed(t, c, "web", "ghost")

	_, err := c.ComputeLoadOrder()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var unknownErr *UnknownDependencyError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "web", unknownErr.Service)
	assert.Equal(t, "ghost", unknownErr.Dependency)
}

func TestCycleDetectedBeforeAnyFactoryRuns(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, nil, nil)
	factoryRan := false
	err := c.Register("a", func(context.Context) (any, error) {
		factoryRan = true
		return nil, nil
	}, &ServiceOptions{Dependencies: []string{"b"}})
	require.NoError(t, err)
	registerNamed(t, c, "b", "a")

	_, err = c.Load(context.Background(), "a")
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.False(t, factoryRan)

	_, lerr := c.LoadAll(context.Background())
	assert.ErrorIs(t, lerr, ErrConfiguration)
	assert.False(t, factoryRan)
}

func TestRegistrationInvalidatesMemoizedOrder(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, nil, nil)
	registerNamed(t, c, "a")

	order, err := c.ComputeLoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, order)

	registerNamed(t, c, "b", "a")

	order, err = c.ComputeLoadOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestGroupByTierPreservesOrder(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(nil, nil, nil, nil)
	require.NoError(t, c.Register("first", func(context.Context) (any, error) { return 1, nil }, &ServiceOptions{
		Priority: loader.PriorityCritical,
	}))
	require.NoError(t, c.Register("second", func(context.Context) (any, error) { return 2, nil }, &ServiceOptions{
		Priority: loader.PriorityCritical,
		Dependencies: []string{"first"},
	}))
	require.NoError(t, c.Register("later", func(context.Context) (any, error) { return 3, nil }, nil))

	order, err := c.ComputeLoadOrder()
	require.NoError(t, err)

	c.mu.Lock()
	tiers := c.groupByTier(order)
	c.mu.Unlock()

	assert.Equal(t, []string{"first", "second"}, tiers[int(loader.PriorityCritical)])
	assert.Equal(t, []string{"later"}, tiers[int(loader.PriorityNormal)])
}
