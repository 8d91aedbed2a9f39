// Package state implements the reactive hierarchical state store.
//
// The store is a process-wide nested key/value space addressed by
// dot-separated paths ("services.auth.ready"). Writes materialize
// intermediate nodes on demand; reads of interior nodes return freshly built
// map snapshots so callers can never mutate the tree through a held
// reference.
//
// Every mutation notifies three tiers of subscribers, each exactly once per
// changed path:
//   - exact-path subscribers, with the new value at that path
//   - ancestor-path subscribers, each with the current value at its own path
//   - wildcard ("*") subscribers, with the changed path plus new and old value
//
// Notification is synchronous with respect to the triggering mutation but
// serialized through a drain queue: a subscriber that mutates the store from
// inside its own callback enqueues a new notification cycle instead of
// recursing.
//
// Thread Safety:
// The store is safe for concurrent use. Callbacks are invoked without the
// store lock held, one at a time, in enqueue order.
package state

import (
	"sort"
	"sync"

	"github.com/marmos91/bootkit/internal/logger"
)

// Wildcard is the subscription path that observes every change in the tree.
const Wildcard = "*"

// Store is a reactive hierarchical key/value store.
//
// The zero value is not usable; create instances with NewStore.
type Store struct {
	mu       sync.Mutex
	root     *node
	wildcard map[string]Callback
	subCount int
	metrics  Metrics

	// Pending notification deliveries. Guarded by mu; drained by whichever
	// goroutine finds draining unset after enqueueing.
	queue    []delivery
	draining bool
}

// delivery is a single callback invocation waiting in the drain queue.
type delivery struct {
	cb Callback
	ev Event
}

// NewStore creates an empty state store.
//
// Pass nil metrics to disable metrics collection with zero overhead.
func NewStore(metrics Metrics) *Store {
	return &Store{
		root:     newNode(),
		wildcard: make(map[string]Callback),
		metrics:  metrics,
	}
}

// Get returns the value at the given path.
//
// The second return value reports presence: a missing path yields
// (nil, false), which is the store's absence sentinel - missing paths are not
// errors. An empty path returns a snapshot of the whole tree.
//
// Interior nodes are returned as freshly built map[string]any snapshots, safe
// for the caller to modify.
func (s *Store) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.root.lookup(splitPath(path))
	if !n.present() {
		return nil, false
	}
	return n.snapshot(), true
}

// Set writes a value at the given path, creating intermediate nodes as
// needed, then synchronously notifies exact, ancestor, and wildcard
// subscribers.
//
// Writing below an existing leaf converts that leaf into a subtree; its
// previous scalar value is discarded.
//
// An empty path is ignored: the root is cleared through Clear, never
// assigned.
func (s *Store) Set(path string, value any) {
	segments := splitPath(path)
	if len(segments) == 0 {
		logger.Warn("state set with empty path ignored")
		return
	}

	s.mu.Lock()
	old := s.root.lookup(segments).snapshot()

	n := s.root.ensureForWrite(segments)
	// A write to an interior node replaces the subtree it held, but nodes
	// below that still carry subscriptions survive, same as Delete.
	n.clearValues()
	n.value = value
	n.hasValue = true

	if s.metrics != nil {
		s.metrics.RecordSet()
	}

	s.enqueueChangeLocked(path, segments, old)
	s.drainLocked()
}

// Delete removes the subtree at the given path, then notifies exact,
// ancestor, and wildcard subscribers with the value now absent.
//
// Deleting a missing path is a no-op: no notification fires.
// Subscriptions attached at or below the deleted path survive.
func (s *Store) Delete(path string) {
	segments := splitPath(path)
	if len(segments) == 0 {
		logger.Warn("state delete with empty path ignored")
		return
	}

	s.mu.Lock()
	n := s.root.lookup(segments)
	if !n.present() {
		s.mu.Unlock()
		return
	}
	old := n.snapshot()

	n.clearValues()
	s.root.pruneAlong(segments)

	if s.metrics != nil {
		s.metrics.RecordDelete()
	}

	s.enqueueChangeLocked(path, segments, old)
	s.drainLocked()
}

// BatchUpdate applies all given updates under a single critical section, then
// fires one notification cycle per changed path - not a single aggregate
// event. Paths are applied in sorted order so the outcome of overlapping
// updates is deterministic.
func (s *Store) BatchUpdate(updates map[string]any) {
	if len(updates) == 0 {
		return
	}

	paths := make([]string, 0, len(updates))
	for path := range updates {
		if len(splitPath(path)) == 0 {
			logger.Warn("state batch update with empty path ignored")
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	s.mu.Lock()
	for _, path := range paths {
		segments := splitPath(path)
		old := s.root.lookup(segments).snapshot()

		n := s.root.ensureForWrite(segments)
		n.clearValues()
		n.value = updates[path]
		n.hasValue = true

		if s.metrics != nil {
			s.metrics.RecordSet()
		}

		s.enqueueChangeLocked(path, segments, old)
	}
	s.drainLocked()
}

// Clear removes the whole tree, notifying the exact-path and wildcard
// subscribers of every populated path that existed - a recursive walk, not
// just the roots. Subscriptions themselves survive.
func (s *Store) Clear() {
	s.mu.Lock()

	type cleared struct {
		path string
		node *node
		old  any
	}
	var existing []cleared
	s.root.walkPopulated("", func(path string, value any) {
		existing = append(existing, cleared{
			path: path,
			node: s.root.lookup(splitPath(path)),
			old:  value,
		})
	})

	s.root.clearValues()

	for _, c := range existing {
		for _, cb := range subscriberList(c.node) {
			s.queue = append(s.queue, delivery{cb: cb, ev: Event{Path: c.path}})
		}
		for _, cb := range sortedCallbacks(s.wildcard) {
			s.queue = append(s.queue, delivery{cb: cb, ev: Event{Path: c.path, Old: c.old}})
		}
		if s.metrics != nil {
			s.metrics.RecordDelete()
		}
	}

	s.drainLocked()
}

// Len returns the number of leaf values currently in the tree.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.countLeaves()
}

// enqueueChangeLocked queues the three notification tiers for a single
// changed path: exact subscribers, every ancestor's subscribers (each seeing
// the post-mutation value at its own path), and wildcard subscribers.
// Caller must hold s.mu.
func (s *Store) enqueueChangeLocked(path string, segments []string, old any) {
	// Exact-path subscribers see the new value at the changed path.
	changed := s.root.lookup(segments)
	newValue := changed.snapshot()
	present := changed.present()
	for _, cb := range subscriberList(changed) {
		s.queue = append(s.queue, delivery{cb: cb, ev: Event{
			Path:    path,
			Value:   newValue,
			Present: present,
		}})
	}

	// Ancestor subscribers see the current value at their own path, nearest
	// ancestor first, ending at the root node ("" subscriptions).
	for i := len(segments) - 1; i >= 0; i-- {
		ancestorSegs := segments[:i]
		ancestor := s.root.lookup(ancestorSegs)
		if ancestor == nil || len(ancestor.subs) == 0 {
			continue
		}
		ancestorPath := joinPath(ancestorSegs)
		value := ancestor.snapshot()
		for _, cb := range subscriberList(ancestor) {
			s.queue = append(s.queue, delivery{cb: cb, ev: Event{
				Path:    ancestorPath,
				Value:   value,
				Present: ancestor.present(),
			}})
		}
	}

	// Wildcard subscribers see the changed path with both values.
	for _, cb := range sortedCallbacks(s.wildcard) {
		s.queue = append(s.queue, delivery{cb: cb, ev: Event{
			Path:    path,
			Value:   newValue,
			Old:     old,
			Present: present,
		}})
	}
}

// drainLocked delivers queued notifications in order. The caller must hold
// s.mu; the lock is released around each callback invocation. If another
// goroutine (or a reentrant callback) is already draining, the queued
// deliveries are left for it to pick up.
func (s *Store) drainLocked() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		invoke(d.cb, d.ev)
		if s.metrics != nil {
			s.metrics.RecordNotification()
		}

		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

// invoke runs a subscriber callback, recovering panics so one failing
// subscriber cannot block delivery to the rest.
func invoke(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("state subscriber panicked",
				"path", ev.Path,
				"panic", r)
		}
	}()
	cb(ev)
}

// joinPath reassembles path segments into a dot-separated path.
func joinPath(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	out := segments[0]
	for _, seg := range segments[1:] {
		out += "." + seg
	}
	return out
}
