package domain

import "fmt"

// Error types for consistent error handling across the sync engine.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
// Transient marks errors worth retrying (network, 5xx, rate limit).
type ErrExternalService struct {
	Service   string
	Transient bool
	Err       error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrReauthRequired indicates the refresh token was rejected by the
// provider. Terminal for the current sync attempt; the user must re-link.
type ErrReauthRequired struct {
	ConnectionID string
}

func (e *ErrReauthRequired) Error() string {
	return fmt.Sprintf("reauthorization required for connection %s", e.ConnectionID)
}

// ErrInvalidGrant is the provider's refusal of a refresh token or auth
// code. The token refresher maps it to ErrReauthRequired for the
// connection at hand.
type ErrInvalidGrant struct {
	Reason string
}

func (e *ErrInvalidGrant) Error() string {
	if e.Reason != "" {
		return "invalid grant: " + e.Reason
	}
	return "invalid grant"
}

// ErrSyncInProgress indicates another sync already holds the connection's
// lock. Not an error state of the connection itself.
type ErrSyncInProgress struct {
	ConnectionID string
}

func (e *ErrSyncInProgress) Error() string {
	return fmt.Sprintf("sync already in progress for connection %s", e.ConnectionID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// IsTransient reports whether err is worth retrying within the same sync
// attempt. Reauth and validation failures are terminal by definition.
func IsTransient(err error) bool {
	for err != nil {
		if ext, ok := err.(*ErrExternalService); ok {
			return ext.Transient
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
