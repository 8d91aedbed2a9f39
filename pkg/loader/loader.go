// Package loader implements the priority-tiered task loader.
//
// The loader runs named async tasks at most once per cache lifetime:
// concurrent requests for one key share a single in-flight execution, results
// are memoized per key, every attempt is raced against a timeout, and
// non-timeout failures are retried exactly once when retry is enabled.
//
// Tasks carry a priority tier (Critical=1 .. Lazy=5, lower is more urgent).
// Tiers do not preempt anything; they group tasks so callers can await
// "everything at or above this urgency" via WaitForPriority.
//
// Thread Safety:
// The loader is safe for concurrent use. Task functions run on their own
// goroutines; a task abandoned by the timeout keeps running, but the context
// handed to it is cancelled so cooperative loaders can stop early.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/bootkit/internal/logger"
)

// Priority is an ordinal urgency tier. Lower values are scheduled and
// awaited first.
type Priority int

const (
	// PriorityCritical marks tasks the application cannot start without.
	PriorityCritical Priority = iota + 1
	// PriorityHigh marks tasks needed shortly after startup.
	PriorityHigh
	// PriorityNormal is the default tier.
	PriorityNormal
	// PriorityLow marks tasks that can wait for the main flow to settle.
	PriorityLow
	// PriorityLazy marks tasks with no urgency at all.
	PriorityLazy
)

// DefaultTimeout bounds a single load attempt unless overridden per call.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when a load attempt exceeds its bound. Timed-out
// loads are never retried.
var ErrTimeout = errors.New("loader: load timed out")

// ErrAllTasksFailed is returned by WaitForPriority when every awaited task
// failed. Individual failures are attached via errors.Join.
var ErrAllTasksFailed = errors.New("loader: all tasks failed")

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityLazy:
		return "lazy"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the defined tiers.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLazy
}

// ParsePriority converts a tier name ("critical", "high", "normal", "low",
// "lazy", case-insensitive) to its Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "lazy":
		return PriorityLazy, nil
	default:
		return 0, fmt.Errorf("loader: unknown priority %q", s)
	}
}

// LoadFunc produces the value for a task. The context is cancelled when the
// task's timeout elapses or the originating caller gives up.
type LoadFunc func(ctx context.Context) (any, error)

// Options tune a single Load call. Nil fields fall back to the loader's
// defaults (retry on, cache on, DefaultTimeout).
type Options struct {
	// Retry enables the single retry of a non-timeout failure.
	Retry *bool

	// Cache controls memoization for this call: when false the cache is
	// bypassed for both read and write.
	Cache *bool

	// Timeout bounds each attempt. Zero means the loader default.
	Timeout time.Duration
}

// Config holds loader construction defaults.
type Config struct {
	// DefaultTimeout bounds attempts when a call does not override it.
	// Default: DefaultTimeout (30s).
	DefaultTimeout time.Duration

	// DisableRetry turns the single-retry policy off by default.
	DisableRetry bool
}

// task tracks one keyed execution. The done channel closes after value/err
// are final, so waiters may read them without the loader lock.
type task struct {
	id   string
	key  string
	tier Priority
	done chan struct{}

	value any
	err   error
}

// Loader is a keyed, cached, priority-tiered concurrent task scheduler.
//
// Create instances with New; the zero value is not usable.
type Loader struct {
	mu       sync.Mutex
	cache    map[string]any
	inflight map[string]*task
	tiers    map[Priority][]*task // every task ever registered, by tier

	defaultTimeout time.Duration
	defaultRetry   bool
	metrics        Metrics
}

// New creates a loader.
//
// Parameters:
//   - config: Optional construction defaults. If nil, defaults are used.
//   - metrics: Optional metrics sink. Pass nil to disable with zero overhead.
func New(config *Config, metrics Metrics) *Loader {
	timeout := DefaultTimeout
	retry := true
	if config != nil {
		if config.DefaultTimeout > 0 {
			timeout = config.DefaultTimeout
		}
		if config.DisableRetry {
			retry = false
		}
	}
	return &Loader{
		cache:          make(map[string]any),
		inflight:       make(map[string]*task),
		tiers:          make(map[Priority][]*task),
		defaultTimeout: timeout,
		defaultRetry:   retry,
		metrics:        metrics,
	}
}

// Load runs the task for key at the given priority, deduplicating against any
// in-flight execution of the same key and consulting the cache first.
//
// Semantics, in order:
//  1. A cached result is returned immediately when caching is enabled for
//     this call; the function is not invoked.
//  2. If an execution for key is already in flight, its outcome is shared -
//     fn is never invoked twice concurrently for one key.
//  3. Otherwise fn runs raced against the timeout. Timeouts are not retried.
//  4. On success the result is memoized (when caching is enabled) and the
//     in-flight marker cleared.
//  5. A non-timeout failure is retried exactly once when retry is enabled;
//     a failed task leaves no cache entry.
func (l *Loader) Load(ctx context.Context, priority Priority, key string, fn LoadFunc, opts *Options) (any, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("loader: invalid priority %d for task %q", int(priority), key)
	}
	if key == "" {
		return nil, fmt.Errorf("loader: cannot load task with empty key")
	}
	if fn == nil {
		return nil, fmt.Errorf("loader: cannot load task %q with nil function", key)
	}
	retry, useCache, timeout := l.resolveOptions(opts)

	l.mu.Lock()
	if useCache {
		if value, ok := l.cache[key]; ok {
			l.mu.Unlock()
			if l.metrics != nil {
				l.metrics.RecordCacheHit()
			}
			return value, nil
		}
		if l.metrics != nil {
			l.metrics.RecordCacheMiss()
		}
	}

	if existing, ok := l.inflight[key]; ok {
		l.mu.Unlock()
		if l.metrics != nil {
			l.metrics.RecordDedup()
		}
		select {
		case <-existing.done:
			return existing.value, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t := &task{
		id:   uuid.New().String(),
		key:  key,
		tier: priority,
		done: make(chan struct{}),
	}
	l.inflight[key] = t
	l.tiers[priority] = append(l.tiers[priority], t)
	inflightCount := len(l.inflight)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetInFlight(inflightCount)
	}
	logger.Debug("loading task",
		"task_id", t.id,
		"key", key,
		"tier", priority.String())

	start := time.Now()
	value, err := l.run(ctx, t, fn, retry, timeout)

	l.mu.Lock()
	t.value = value
	t.err = err
	if err == nil && useCache {
		l.cache[key] = value
	}
	delete(l.inflight, key)
	inflightCount = len(l.inflight)
	l.mu.Unlock()
	close(t.done)

	if l.metrics != nil {
		l.metrics.SetInFlight(inflightCount)
		l.metrics.ObserveLoad(priority.String(), outcomeLabel(err), time.Since(start))
	}

	if err != nil {
		logger.Warn("task failed",
			"task_id", t.id,
			"key", key,
			"tier", priority.String(),
			"error", err)
		return nil, err
	}

	logger.Debug("task settled",
		"task_id", t.id,
		"key", key,
		"duration_ms", time.Since(start).Milliseconds())
	return value, nil
}

// run executes one or two attempts according to the retry policy.
func (l *Loader) run(ctx context.Context, t *task, fn LoadFunc, retry bool, timeout time.Duration) (any, error) {
	value, err := l.attempt(ctx, t, fn, timeout)
	if err == nil {
		return value, nil
	}

	// Timeouts and caller cancellation are final; everything else gets the
	// single retry when enabled.
	if !retry || errors.Is(err, ErrTimeout) || ctx.Err() != nil {
		return nil, err
	}

	if l.metrics != nil {
		l.metrics.RecordRetry()
	}
	logger.Debug("retrying task once",
		"task_id", t.id,
		"key", t.key,
		"error", err)
	return l.attempt(ctx, t, fn, timeout)
}

// attempt races a single invocation of fn against the timeout and caller
// cancellation. The context handed to fn is cancelled when the race is lost;
// a loader function that ignores it keeps running with its result discarded.
func (l *Loader) attempt(ctx context.Context, t *task, fn LoadFunc, timeout time.Duration) (any, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("loader: task %q panicked: %v", t.key, r)}
			}
		}()
		value, err := fn(attemptCtx)
		ch <- outcome{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("load %q failed: %w", t.key, out.err)
		}
		return out.value, nil
	case <-timer.C:
		if l.metrics != nil {
			l.metrics.RecordTimeout()
		}
		return nil, fmt.Errorf("%w: task %q exceeded %s", ErrTimeout, t.key, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request describes one entry for LoadMany.
type Request struct {
	Priority Priority
	Key      string
	Fn       LoadFunc
	Options  *Options
}

// Result is the settled outcome of one LoadMany entry.
type Result struct {
	Key   string
	Value any
	Err   error
}

// LoadMany schedules all requests concurrently and returns the settled
// outcome of each, in request order. A failing entry never short-circuits
// the others.
func (l *Loader) LoadMany(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			value, err := l.Load(ctx, req.Priority, req.Key, req.Fn, req.Options)
			results[i] = Result{Key: req.Key, Value: value, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}

// Preload schedules a task in the background and discards the outcome.
// Failures are logged, never surfaced.
func (l *Loader) Preload(ctx context.Context, priority Priority, key string, fn LoadFunc) {
	go func() {
		if _, err := l.Load(ctx, priority, key, fn, nil); err != nil {
			logger.Debug("preload failed",
				"key", key,
				"tier", priority.String(),
				"error", err)
		}
	}()
}

// WaitForPriority blocks until every task registered at a tier at or below
// max has settled, success or failure. Tasks registered after the wait
// begins are excluded.
//
// Returns ErrAllTasksFailed (with joined causes) only when every awaited
// task failed; partial failure is not an error here.
func (l *Loader) WaitForPriority(ctx context.Context, max Priority) error {
	l.mu.Lock()
	var awaited []*task
	for p := PriorityCritical; p <= max; p++ {
		awaited = append(awaited, l.tiers[p]...)
	}
	l.mu.Unlock()

	if len(awaited) == 0 {
		return nil
	}

	var failures []error
	for _, t := range awaited {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if t.err != nil {
			failures = append(failures, t.err)
		}
	}

	if len(failures) == len(awaited) {
		return fmt.Errorf("%w: %d tasks at or below tier %q: %w",
			ErrAllTasksFailed, len(awaited), max.String(), errors.Join(failures...))
	}
	return nil
}

// Cached returns the memoized result for key, if any.
func (l *Loader) Cached(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	value, ok := l.cache[key]
	return value, ok
}

// InFlight returns the number of currently executing tasks.
func (l *Loader) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}

// Evict forgets the cached result for key. In-flight work is untouched.
func (l *Loader) Evict(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, key)
}

// Clear forgets all cached results. In-flight work and tier completion
// records are untouched.
func (l *Loader) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]any)
}

// resolveOptions merges per-call options with loader defaults.
func (l *Loader) resolveOptions(opts *Options) (retry, cache bool, timeout time.Duration) {
	retry = l.defaultRetry
	cache = true
	timeout = l.defaultTimeout
	if opts != nil {
		if opts.Retry != nil {
			retry = *opts.Retry
		}
		if opts.Cache != nil {
			cache = *opts.Cache
		}
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
	}
	return retry, cache, timeout
}

// outcomeLabel maps an error to its metrics outcome label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "failure"
	}
}
