package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration marks programming mistakes in the dependency graph: a
// cycle or a dependency on an unregistered service. Configuration errors are
// detected at order-computation time, before any factory runs, and are never
// retried. Match with errors.Is; inspect details with errors.As against
// *CycleError or *UnknownDependencyError.
var ErrConfiguration = errors.New("services: invalid configuration")

// ErrNotRegistered is returned when an operation names a service that was
// never registered.
var ErrNotRegistered = errors.New("services: service not registered")

// ErrNotLoaded is returned by Get when the service has not resolved yet.
// A usage error, not a load failure - call Load or WaitFor first.
var ErrNotLoaded = errors.New("services: service not loaded")

// CycleError reports a dependency cycle. Path holds the cycle with the
// repeated service at both ends, e.g. ["a", "b", "a"].
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("services: dependency cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrConfiguration
}

// UnknownDependencyError reports a descriptor naming an unregistered
// dependency.
type UnknownDependencyError struct {
	Service    string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("services: service %q depends on unregistered service %q", e.Service, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error {
	return ErrConfiguration
}
