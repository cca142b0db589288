package chain

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// outcome is the result of one handler invocation as seen by the chain.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeFinalized
	outcomeFaulted
)

// Chain executes one request through a fixed set of handlers. Chains are
// created per request and must not be reused.
type Chain struct {
	handlers Handlers
	logger   *slog.Logger

	used           atomic.Bool
	fault          error
	claimed        bool
	responseFaults []error
}

// New returns a chain bound to handlers. The caller must not mutate the
// slices in handlers afterwards; use Handlers.Clone when in doubt.
func New(handlers Handlers, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{
		handlers: handlers,
		logger:   logger,
	}
}

// Handle runs the request, exception and response phases over ctx and resp.
// The result is the mutated response. The only errors returned are for misuse:
// ErrNilArgument and ErrChainReused.
func (c *Chain) Handle(ctx *RequestContext, resp *Response) error {
	if ctx == nil || resp == nil {
		return ErrNilArgument
	}
	if !c.used.CompareAndSwap(false, true) {
		return ErrChainReused
	}
	defer ctx.seal()

	c.runRequestHandlers(ctx, resp)
	ctx.terminate()

	if c.fault != nil {
		c.runExceptionHandlers(ctx, resp)
	}

	c.runResponseHandlers(ctx, resp)
	return nil
}

// Handlers returns the handler lists this chain runs.
func (c *Chain) Handlers() Handlers {
	return c.handlers.Clone()
}

// Logger returns the chain logger.
func (c *Chain) Logger() *slog.Logger {
	return c.logger
}

// Fault returns the request-phase fault, if any.
func (c *Chain) Fault() error {
	return c.fault
}

// Claimed reports whether an exception handler claimed the fault.
func (c *Chain) Claimed() bool {
	return c.claimed
}

// ResponseFaults returns the faults raised by response handlers.
func (c *Chain) ResponseFaults() []error {
	return append([]error(nil), c.responseFaults...)
}

func (c *Chain) runRequestHandlers(ctx *RequestContext, resp *Response) {
	for _, e := range c.handlers.Request {
		if err := ctx.Context().Err(); err != nil {
			c.fault = fmt.Errorf("%w before %s: %w", ErrCanceled, e.Name, err)
			return
		}

		out, err := c.invokeRequest(e, ctx, resp)
		switch out {
		case outcomeFinalized:
			return
		case outcomeFaulted:
			c.fault = &HandlerError{Handler: e.Name, Phase: PhaseRequest, Err: err}
			return
		}
	}
}

func (c *Chain) invokeRequest(e Entry[RequestHandler], ctx *RequestContext, resp *Response) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = outcomeFaulted, &PanicError{Handler: e.Name, Value: r}
		}
	}()

	if err := e.Handler.HandleRequest(c, ctx, resp); err != nil {
		return outcomeFaulted, err
	}
	if resp.Finalized() {
		return outcomeFinalized, nil
	}
	return outcomeContinue, nil
}

func (c *Chain) runExceptionHandlers(ctx *RequestContext, resp *Response) {
	for _, e := range c.handlers.Exception {
		d, err := c.invokeException(e, ctx, resp)
		if err != nil {
			c.logger.Error("exception handler failed",
				slog.String("request_id", ctx.RequestID()),
				slog.String("handler", e.Name),
				slog.String("fault", c.fault.Error()),
				slog.String("error", err.Error()))
			writeFallback(resp)
			return
		}
		if d == Handled {
			c.claimed = true
			break
		}
	}

	if !c.claimed {
		c.logger.Error("unhandled fault",
			slog.String("request_id", ctx.RequestID()),
			slog.String("error", c.fault.Error()))
		writeFallback(resp)
		return
	}

	if resp.Status() == 0 {
		c.logger.Warn("fault claimed without a response status",
			slog.String("request_id", ctx.RequestID()),
			slog.String("error", c.fault.Error()))
		writeFallback(resp)
		return
	}
	resp.Finalize()
}

func (c *Chain) invokeException(e Entry[ExceptionHandler], ctx *RequestContext, resp *Response) (d Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = NotHandled, &PanicError{Handler: e.Name, Value: r}
		}
	}()
	return e.Handler.HandleException(c, ctx, resp, c.fault)
}

func (c *Chain) runResponseHandlers(ctx *RequestContext, resp *Response) {
	for _, e := range c.handlers.Response {
		if err := c.invokeResponse(e, ctx, resp); err != nil {
			herr := &HandlerError{Handler: e.Name, Phase: PhaseResponse, Err: err}
			c.responseFaults = append(c.responseFaults, herr)
			c.logger.Warn("response handler failed",
				slog.String("request_id", ctx.RequestID()),
				slog.String("handler", e.Name),
				slog.String("error", err.Error()))
		}
	}
}

func (c *Chain) invokeResponse(e Entry[ResponseHandler], ctx *RequestContext, resp *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Handler: e.Name, Value: r}
		}
	}()
	return e.Handler.HandleResponse(c, ctx, resp)
}
