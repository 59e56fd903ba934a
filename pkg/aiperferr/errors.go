// Package aiperferr defines the system-level error taxonomy from spec.md
// §7. Per-record errors (model.ErrorDetails) are plain data and are never
// represented here — only failures that abort a service or a run are.
package aiperferr

import "fmt"

// Kind classifies a system-level failure.
type Kind string

const (
	KindConfig        Kind = "configuration_invalid"
	KindLifecycle     Kind = "service_lifecycle_failure"
	KindCommTransient Kind = "communication_transient"
	KindCommFatal     Kind = "communication_fatal"
	KindHook          Kind = "hook_error"
)

// Error is a typed system-level failure.
type Error struct {
	Kind    Kind
	Service string
	Err     error
}

func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as a typed Error of the given kind.
func New(kind Kind, service string, err error) *Error {
	return &Error{Kind: kind, Service: service, Err: err}
}

// Configf builds a configuration error.
func Configf(format string, args ...any) *Error {
	return New(KindConfig, "", fmt.Errorf(format, args...))
}

// Lifecyclef builds a service-lifecycle error.
func Lifecyclef(service, format string, args ...any) *Error {
	return New(KindLifecycle, service, fmt.Errorf(format, args...))
}

// CommTransientf builds a transient communication error.
func CommTransientf(format string, args ...any) *Error {
	return New(KindCommTransient, "", fmt.Errorf(format, args...))
}

// CommFatalf builds a fatal communication error.
func CommFatalf(format string, args ...any) *Error {
	return New(KindCommFatal, "", fmt.Errorf(format, args...))
}

// HookErrors aggregates multiple hook failures raised during a single
// service initialization phase, so the service fails deterministically with
// the full set of problems instead of just the first one encountered.
type HookErrors struct {
	Service string
	Errs    []error
}

func (e *HookErrors) Error() string {
	return fmt.Sprintf("%s: %d init hook(s) failed: %v", e.Service, len(e.Errs), e.Errs)
}

func (e *HookErrors) Unwrap() []error { return e.Errs }
