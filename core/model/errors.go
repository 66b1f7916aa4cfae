package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoVehicles is returned when a request carries no vehicle.
var ErrNoVehicles = errors.New("no vehicles in request")

// Reasons reported for unassigned orders.
const (
	ReasonValidation = "ValidationError"
	ReasonCapacity   = "CapacityExceeded"
	ReasonDeferred   = "Deferred"
)

// ValidationError reports malformed input. OrderID is set for order level
// problems, Subject for other entities.
type ValidationError struct {
	OrderID string
	Subject string
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	id := e.OrderID
	if id == "" {
		id = e.Subject
	}
	if id == "" {
		return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s %s", id, e.Field, e.Reason)
}

// CapacityExceededError is returned when no vehicle can absorb an order.
type CapacityExceededError struct {
	OrderID string
	Load    float64
	// Available is the largest free capacity seen among candidates.
	Available float64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded: order %s load %.2f, largest free capacity %.2f", e.OrderID, e.Load, e.Available)
}

// RoutingServiceError wraps a failure of the distance matrix service.
type RoutingServiceError struct {
	Op  string
	Err error
}

func (e *RoutingServiceError) Error() string {
	return fmt.Sprintf("routing %s: %v", e.Op, e.Err)
}

func (e *RoutingServiceError) Unwrap() error { return e.Err }

// AdvisorUnavailableError is returned when every advisory provider failed.
type AdvisorUnavailableError struct {
	Errs []error
}

func (e *AdvisorUnavailableError) Error() string {
	if len(e.Errs) == 0 {
		return "advisor unavailable: no providers configured"
	}
	parts := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		parts[i] = err.Error()
	}
	return "advisor unavailable: " + strings.Join(parts, "; ")
}

func (e *AdvisorUnavailableError) Unwrap() []error { return e.Errs }

// AtRiskWarning is the non-fatal signal raised for critical orders that
// cannot be served this cycle.
type AtRiskWarning = AtRiskAlert

// ReasonFor maps an error to the reason reported for an unassigned order.
func ReasonFor(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ReasonValidation
	}
	var ce *CapacityExceededError
	if errors.As(err, &ce) {
		return ReasonCapacity
	}
	return ReasonDeferred
}
