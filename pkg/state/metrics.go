package state

// Metrics provides observability for store operations.
//
// Implementations collect counters for mutations and notification fan-out
// plus a gauge of active subscriptions. This interface is optional - pass nil
// to NewStore to disable metrics collection with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	metrics.InitRegistry()
//	store := state.NewStore(prometheus.NewStateMetrics())
//
//	// Without metrics (pass nil for zero overhead)
//	store := state.NewStore(nil)
type Metrics interface {
	// RecordSet increments the mutation counter for writes.
	RecordSet()

	// RecordDelete increments the mutation counter for removals.
	RecordDelete()

	// RecordNotification increments the delivered-notification counter.
	// Called once per callback invocation, not once per mutation.
	RecordNotification()

	// SetSubscriptions updates the active subscription gauge.
	SetSubscriptions(count int)
}
