package hass

import "fmt"

// ConnectionError indicates the platform could not be reached or a call
// timed out. Recoverable: the client retries with bounded backoff.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("connection error during %s", e.Op)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// EntityNotFoundError indicates a referenced entity does not exist on the
// platform. Per-call non-fatal.
type EntityNotFoundError struct {
	EntityID string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %s not found", e.EntityID)
}

// ServiceCallError indicates a service invocation was rejected or failed in
// transit. Per-call non-fatal; the next evaluation may retry.
type ServiceCallError struct {
	Domain  string
	Service string
	Err     error
}

func (e *ServiceCallError) Error() string {
	return fmt.Sprintf("service call %s.%s failed: %v", e.Domain, e.Service, e.Err)
}

func (e *ServiceCallError) Unwrap() error {
	return e.Err
}
