// Package errs defines the failure taxonomy shared by every crowdsync layer.
//
// Callers classify failures with errors.Is against the sentinels below and
// reach the details with errors.As:
//
//	if errors.Is(err, errs.ErrNotFound) {
//	    // nothing cached or stored yet
//	}
//
//	var se *errs.StorageError
//	if errors.As(err, &se) {
//	    log.Println(se.Statement)
//	}
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport is returned when the remote deployment could not be
	// reached (DNS, refused connection, timeout, broken body).
	ErrTransport = errors.New("network unreachable")

	// ErrAuth is returned when the deployment rejects the credentials or
	// the token grant fails.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound is returned when a lookup matched nothing, locally or
	// remotely.
	ErrNotFound = errors.New("not found")

	// ErrServer is returned for 5xx responses.
	ErrServer = errors.New("server error")

	// ErrSchema is returned when a cached table no longer matches the
	// declared columns. Recovery is a destructive reset of the cache.
	ErrSchema = errors.New("schema mismatch")

	// ErrStorage is returned when a statement against the local store fails.
	ErrStorage = errors.New("storage failure")

	// ErrValidation is returned when a payload or entity has an unexpected
	// shape.
	ErrValidation = errors.New("invalid payload")

	// ErrNotConfigured is returned when an optional collaborator (video
	// host, geocoder) is required but was never configured.
	ErrNotConfigured = errors.New("not configured")
)

// StorageError carries the statement that failed against the local store.
type StorageError struct {
	Statement string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %v (statement: %s)", e.Err, e.Statement)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// SchemaError reports a table whose stored shape differs from its
// declaration.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema of table %s changed: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() []error { return []error{ErrSchema, e.Err} }

// StatusError is an unexpected HTTP status from a deployment. Kind is one of
// the sentinels above and is matched by errors.Is.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
	Kind   error
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// ValidationError names the field that had an unexpected shape.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsRetryable returns true if the error is likely to succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer)
}

// IsFatal returns true if the error cannot be recovered without user action:
// a changed cache schema needs a reset, rejected credentials need a new login.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrSchema) || errors.Is(err, ErrAuth)
}
