package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Get / Set
// ============================================================================

func TestGetMissingPathReturnsAbsent(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	value, ok := s.Get("does.not.exist")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestSetAndGetLeaf(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("app.version", "1.2.3")

	value, ok := s.Get("app.version")
	require.True(t, ok)
	assert.Equal(t, "1.2.3", value)
}

func TestGetInteriorReturnsMapSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("app.name", "bootkit")
	s.Set("app.version", "1.2.3")

	value, ok := s.Get("app")
	require.True(t, ok)

	m, isMap := value.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, "bootkit", m["name"])
	assert.Equal(t, "1.2.3", m["version"])

	// Mutating the snapshot must not leak into the tree.
	m["name"] = "tampered"
	fresh, _ := s.Get("app.name")
	assert.Equal(t, "bootkit", fresh)
}

func TestGetEmptyPathReturnsWholeTree(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b", 1)
	s.Set("c", 2)

	value, ok := s.Get("")
	require.True(t, ok)

	tree, isMap := value.(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, 2, tree["c"])
	inner, isMap := tree["a"].(map[string]any)
	require.True(t, isMap)
	assert.Equal(t, 1, inner["b"])
}

func TestSetBelowLeafConvertsToSubtree(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b", 1)
	s.Set("a.b.c", 2)

	value, ok := s.Get("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 2, value)

	// The old scalar at a.b is gone; a.b is now an interior node.
	value, ok = s.Get("a.b")
	require.True(t, ok)
	_, isMap := value.(map[string]any)
	assert.True(t, isMap)
}

func TestSetInteriorReplacesSubtree(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b.c", 1)
	s.Set("a.b", "flat")

	value, ok := s.Get("a.b")
	require.True(t, ok)
	assert.Equal(t, "flat", value)

	_, ok = s.Get("a.b.c")
	assert.False(t, ok)
}

func TestLen(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	assert.Equal(t, 0, s.Len())

	s.Set("a.b", 1)
	s.Set("a.c", 2)
	s.Set("d", 3)
	assert.Equal(t, 3, s.Len())

	s.Delete("a")
	assert.Equal(t, 1, s.Len())
}

// ============================================================================
// Notification tiers
// ============================================================================

func TestSetNotifiesAllTiersExactlyOnce(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	var exact, parent, grandparent, wildcard []Event
	s.Subscribe("a.b.c", func(ev Event) { exact = append(exact, ev) })
	s.Subscribe("a.b", func(ev Event) { parent = append(parent, ev) })
	s.Subscribe("a", func(ev Event) { grandparent = append(grandparent, ev) })
	s.Subscribe(Wildcard, func(ev Event) { wildcard = append(wildcard, ev) })

	s.Set("a.b.c", 1)

	require.Len(t, exact, 1)
	assert.Equal(t, "a.b.c", exact[0].Path)
	assert.Equal(t, 1, exact[0].Value)
	assert.True(t, exact[0].Present)

	require.Len(t, parent, 1)
	assert.Equal(t, "a.b", parent[0].Path)
	assert.Equal(t, map[string]any{"c": 1}, parent[0].Value)

	require.Len(t, grandparent, 1)
	assert.Equal(t, "a", grandparent[0].Path)

	require.Len(t, wildcard, 1)
	assert.Equal(t, "a.b.c", wildcard[0].Path)
	assert.Equal(t, 1, wildcard[0].Value)
	assert.Nil(t, wildcard[0].Old)
}

func TestWildcardSeesOldValue(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("x", "before")

	var events []Event
	s.Subscribe(Wildcard, func(ev Event) { events = append(events, ev) })

	s.Set("x", "after")

	require.Len(t, events, 1)
	assert.Equal(t, "before", events[0].Old)
	assert.Equal(t, "after", events[0].Value)
}

func TestRootSubscriptionFiresAsAncestor(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	var events []Event
	s.Subscribe("", func(ev Event) { events = append(events, ev) })

	s.Set("deep.nested.value", 42)

	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].Path)
	assert.True(t, events[0].Present)
}

func TestIndependentSubscriptionsAllFire(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	first, second := 0, 0
	s.Subscribe("k", func(Event) { first++ })
	s.Subscribe("k", func(Event) { second++ })

	s.Set("k", true)

	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	calls := 0
	unsubscribe := s.Subscribe("k", func(Event) { calls++ })

	s.Set("k", 1)
	unsubscribe()
	s.Set("k", 2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, s.Subscriptions())

	// Idempotent.
	unsubscribe()
	assert.Equal(t, 0, s.Subscriptions())
}

func TestDeleteNotifiesAbsent(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b", "value")

	var exact, wildcard []Event
	s.Subscribe("a.b", func(ev Event) { exact = append(exact, ev) })
	s.Subscribe(Wildcard, func(ev Event) { wildcard = append(wildcard, ev) })

	s.Delete("a.b")

	require.Len(t, exact, 1)
	assert.False(t, exact[0].Present)
	assert.Nil(t, exact[0].Value)

	require.Len(t, wildcard, 1)
	assert.Equal(t, "value", wildcard[0].Old)
	assert.False(t, wildcard[0].Present)

	_, ok := s.Get("a.b")
	assert.False(t, ok)
}

func TestDeleteMissingPathDoesNotNotify(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	calls := 0
	s.Subscribe(Wildcard, func(Event) { calls++ })

	s.Delete("never.set")
	assert.Equal(t, 0, calls)
}

func TestSubscriptionSurvivesDelete(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b", 1)

	var events []Event
	s.Subscribe("a.b", func(ev Event) { events = append(events, ev) })

	// Deleting the parent removes the subtree; only exact, ancestor, and
	// wildcard subscribers of the deleted path are notified, so the a.b
	// subscription stays silent but remains armed for the next write.
	s.Delete("a")
	s.Set("a.b", 2)

	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Value)
	assert.True(t, events[0].Present)
}

func TestSubscriptionSurvivesInteriorOverwrite(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b.c", 0)

	var events []Event
	unsubscribe := s.Subscribe("a.b.c", func(ev Event) { events = append(events, ev) })

	// Overwriting the interior replaces the subtree, but the subscription
	// below it stays armed for the next exact write.
	s.Set("a.b", "flat")
	require.Empty(t, events)

	s.Set("a.b.c", 1)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Value)
	assert.True(t, events[0].Present)

	unsubscribe()
	assert.Equal(t, 0, s.Subscriptions())
}

func TestSubscribeBelowLeafKeepsLeafValue(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b", 5)

	unsubscribe := s.Subscribe("a.b.c", func(Event) {})
	defer unsubscribe()

	value, ok := s.Get("a.b")
	require.True(t, ok)
	assert.Equal(t, 5, value)

	_, ok = s.Get("a.b.c")
	assert.False(t, ok)
}

// ============================================================================
// BatchUpdate / Clear
// ============================================================================

func TestBatchUpdateFiresPerChangedPath(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	var paths []string
	s.Subscribe(Wildcard, func(ev Event) { paths = append(paths, ev.Path) })

	s.BatchUpdate(map[string]any{
		"a.x": 1,
		"a.y": 2,
		"b":   3,
	})

	assert.Equal(t, []string{"a.x", "a.y", "b"}, paths)
	assert.Equal(t, 3, s.Len())
}

func TestBatchUpdateAncestorSeesAllSiblings(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	var events []Event
	s.Subscribe("a", func(ev Event) { events = append(events, ev) })

	s.BatchUpdate(map[string]any{
		"a.x": 1,
		"a.y": 2,
	})

	// One notification per changed path; the second already observes both
	// siblings because updates are applied before any callback runs.
	require.Len(t, events, 2)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, events[0].Value)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, events[1].Value)
}

func TestBatchUpdateInteriorKeepsDeepSubscriptions(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("svc.db.ready", false)

	calls := 0
	unsubscribe := s.Subscribe("svc.db.ready", func(Event) { calls++ })

	s.BatchUpdate(map[string]any{"svc.db": "replaced"})
	s.Set("svc.db.ready", true)

	assert.Equal(t, 1, calls)

	unsubscribe()
	assert.Equal(t, 0, s.Subscriptions())
}

func TestClearNotifiesEveryExistingPath(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	s.Set("a.b", 1)
	s.Set("a.c", 2)
	s.Set("d", 3)

	var cleared []string
	s.Subscribe(Wildcard, func(ev Event) {
		assert.False(t, ev.Present)
		cleared = append(cleared, ev.Path)
	})

	var exactEvents []Event
	s.Subscribe("a.b", func(ev Event) { exactEvents = append(exactEvents, ev) })

	s.Clear()

	// Every populated path, interior nodes included, not just the roots.
	assert.Equal(t, []string{"a", "a.b", "a.c", "d"}, cleared)
	require.Len(t, exactEvents, 1)
	assert.False(t, exactEvents[0].Present)

	assert.Equal(t, 0, s.Len())
	_, ok := s.Get("")
	assert.False(t, ok)
}

// ============================================================================
// Failure and reentrancy semantics
// ============================================================================

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	delivered := false
	s.Subscribe("k", func(Event) { panic("subscriber bug") })
	s.Subscribe("k", func(Event) { delivered = true })

	s.Set("k", 1)

	assert.True(t, delivered)
}

func TestReentrantSetFromCallbackIsSerialized(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	var order []string
	s.Subscribe("trigger", func(ev Event) {
		order = append(order, "trigger")
		if ev.Value == "first" {
			// Writing from inside a callback must enqueue, not recurse.
			s.Set("trigger", "second")
		}
	})
	s.Subscribe("other", func(Event) { order = append(order, "other") })

	s.Set("trigger", "first")
	s.Set("other", true)

	assert.Equal(t, []string{"trigger", "trigger", "other"}, order)
}

func TestConcurrentSetsAreSafe(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)

	var mu sync.Mutex
	seen := 0
	s.Subscribe(Wildcard, func(Event) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				s.Set("counters.c"+string(rune('a'+n)), j)
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 200, seen)
}
