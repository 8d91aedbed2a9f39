package state

import (
	"sort"

	"github.com/google/uuid"
)

// Event describes a single state change delivered to a subscriber.
type Event struct {
	// Path is the path the event describes. For exact and ancestor
	// subscriptions this is the subscription's own path; for wildcard
	// subscriptions it is the path that changed.
	Path string

	// Value is the current value observed at Path after the change.
	// Interior nodes arrive as map snapshots safe to modify.
	Value any

	// Old is the value at Path before the change. Populated for wildcard
	// subscriptions only.
	Old any

	// Present is false when the value at Path was removed.
	Present bool
}

// Callback receives state change events. Callbacks run synchronously with
// the triggering mutation, one at a time, without the store lock held.
// A callback that mutates the store enqueues a follow-up notification cycle
// rather than recursing.
type Callback func(Event)

// Subscribe registers a callback for changes at the given path and returns
// the function that removes the subscription. The caller owns the returned
// unsubscribe and must invoke it to avoid leaking the callback.
//
// Path semantics:
//   - a concrete path ("services.auth.ready") fires on changes to that exact
//     path and on changes anywhere below it (ancestor notification)
//   - the empty path subscribes to the root and fires on every change
//   - Wildcard ("*") fires on every change with the changed path plus new
//     and old value
//
// Independent subscriptions on one path all fire; unsubscribing one leaves
// the others in place. Unsubscribe is idempotent.
func (s *Store) Subscribe(path string, cb Callback) func() {
	token := uuid.New().String()

	s.mu.Lock()
	if path == Wildcard {
		s.wildcard[token] = cb
	} else {
		n := s.root.ensure(splitPath(path))
		if n.subs == nil {
			n.subs = make(map[string]Callback)
		}
		n.subs[token] = cb
	}
	s.subCount++
	if s.metrics != nil {
		s.metrics.SetSubscriptions(s.subCount)
	}
	s.mu.Unlock()

	return func() {
		s.unsubscribe(path, token)
	}
}

// unsubscribe removes a single subscription and prunes any nodes the
// subscription was keeping alive.
func (s *Store) unsubscribe(path, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == Wildcard {
		if _, ok := s.wildcard[token]; !ok {
			return
		}
		delete(s.wildcard, token)
	} else {
		segments := splitPath(path)
		n := s.root.lookup(segments)
		if n == nil {
			return
		}
		if _, ok := n.subs[token]; !ok {
			return
		}
		delete(n.subs, token)
		s.root.pruneAlong(segments)
	}

	s.subCount--
	if s.metrics != nil {
		s.metrics.SetSubscriptions(s.subCount)
	}
}

// Subscriptions returns the number of active subscriptions, wildcard
// included.
func (s *Store) Subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subCount
}

// subscriberList returns a node's callbacks in deterministic (token) order.
func subscriberList(n *node) []Callback {
	if n == nil || len(n.subs) == 0 {
		return nil
	}
	return sortedCallbacks(n.subs)
}

// sortedCallbacks flattens a token-keyed callback map in token order so
// notification order is stable for a given subscription set.
func sortedCallbacks(m map[string]Callback) []Callback {
	if len(m) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(m))
	for token := range m {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	out := make([]Callback, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, m[token])
	}
	return out
}
