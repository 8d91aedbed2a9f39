package loader

import "time"

// Metrics provides observability for loader operations.
//
// This interface is optional - pass nil to New to disable metrics collection
// with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	ld := loader.New(nil, prometheus.NewLoaderMetrics())
//
//	// Without metrics (pass nil for zero overhead)
//	ld := loader.New(nil, nil)
type Metrics interface {
	// ObserveLoad records a settled task execution.
	//
	// Parameters:
	//   - tier: Priority tier label ("critical" .. "lazy")
	//   - outcome: "success", "failure", or "timeout"
	//   - duration: Time from scheduling to settlement
	ObserveLoad(tier string, outcome string, duration time.Duration)

	// RecordCacheHit increments the cache hit counter.
	RecordCacheHit()

	// RecordCacheMiss increments the cache miss counter. Only calls that
	// consult the cache count; cache-bypassing calls record nothing.
	RecordCacheMiss()

	// RecordDedup increments the counter of calls that joined an already
	// in-flight execution instead of starting their own.
	RecordDedup()

	// RecordRetry increments the retry counter.
	RecordRetry()

	// RecordTimeout increments the timeout counter.
	RecordTimeout()

	// SetInFlight updates the gauge of currently executing tasks.
	SetInFlight(count int)
}
