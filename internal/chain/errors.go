package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrChainReused is returned when Handle is called on a chain that already ran.
	ErrChainReused = errors.New("chain: handler chain already used")

	// ErrNilArgument is returned when Handle receives a nil context or response.
	ErrNilArgument = errors.New("chain: nil request context or response")

	// ErrContextTerminated is returned when request attributes are set after the
	// request phase has ended.
	ErrContextTerminated = errors.New("chain: request context terminated")

	// ErrCanceled wraps the context error when a request is cancelled or its
	// deadline expires between request handlers.
	ErrCanceled = errors.New("chain: request canceled")
)

// PanicError is the fault recorded when a handler panics.
type PanicError struct {
	Handler string
	Value   any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Handler, e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// HandlerError annotates a fault with the handler that raised it.
type HandlerError struct {
	Handler string
	Phase   Phase
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler %s: %v", e.Phase, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsPanic reports whether err came from a recovered handler panic.
func IsPanic(err error) bool {
	var p *PanicError
	return errors.As(err, &p)
}
