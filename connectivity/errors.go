package connectivity

import "fmt"

// ErrServiceNotFound reports a call to a service with neither a route nor
// a local handler. HTTPHandler maps it to 404.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return "connectivity: no route or local handler for " + e.Service
}

// ErrNoFactory reports a route whose strategy has no transport registered.
type ErrNoFactory struct {
	Service, Strategy string
}

func (e *ErrNoFactory) Error() string {
	return fmt.Sprintf("connectivity: %s: unknown strategy %q", e.Service, e.Strategy)
}

// ErrFactoryFailed wraps the error a transport returned while building the
// handler of a route.
type ErrFactoryFailed struct {
	Service, Strategy, Endpoint string
	Cause                       error
}

func (e *ErrFactoryFailed) Error() string {
	return fmt.Sprintf("connectivity: %s: %s transport to %s: %v", e.Service, e.Strategy, e.Endpoint, e.Cause)
}

func (e *ErrFactoryFailed) Unwrap() error { return e.Cause }

// ErrPanic carries the value a handler panicked with.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}
