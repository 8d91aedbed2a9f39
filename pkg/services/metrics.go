package services

import "time"

// Metrics provides observability for coordinator operations.
//
// This interface is optional - pass nil to NewCoordinator to disable metrics
// collection with zero overhead.
type Metrics interface {
	// SetRegistered updates the gauge of registered services.
	SetRegistered(count int)

	// SetReady updates the gauge of resolved services.
	SetReady(count int)

	// ObserveServiceLoad records one settled service load.
	//
	// Parameters:
	//   - service: Service name
	//   - outcome: "success" or "failure"
	//   - duration: Time from load start to settlement
	ObserveServiceLoad(service string, outcome string, duration time.Duration)
}
