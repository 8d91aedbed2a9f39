package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrWaitTimeout is returned by WaitFor when the path does not become
// populated within the timeout.
var ErrWaitTimeout = errors.New("state: wait timed out")

// WaitFor blocks until the path holds a value, returning immediately if one
// is already present.
//
// The internal subscription is released on every outcome: value observed,
// timeout elapsed, or context cancelled. A timeout yields ErrWaitTimeout
// (matchable with errors.Is); context cancellation yields ctx.Err().
func (s *Store) WaitFor(ctx context.Context, path string, timeout time.Duration) (any, error) {
	ch := make(chan any, 1)
	var once sync.Once

	// Subscribe before the presence check so a concurrent Set between the
	// two cannot be missed.
	unsubscribe := s.Subscribe(path, func(ev Event) {
		if ev.Present {
			once.Do(func() { ch <- ev.Value })
		}
	})
	defer unsubscribe()

	if value, ok := s.Get(path); ok {
		return value, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case value := <-ch:
		return value, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %q not populated after %s", ErrWaitTimeout, path, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
