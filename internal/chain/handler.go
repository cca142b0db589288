package chain

// Phase identifies which handler list is running.
type Phase string

const (
	PhaseRequest   Phase = "request"
	PhaseResponse  Phase = "response"
	PhaseException Phase = "exception"
)

// Disposition is an exception handler's answer to a fault.
type Disposition int

const (
	// NotHandled lets the next exception handler have a turn.
	NotHandled Disposition = iota
	// Handled claims the fault; the response is considered terminal.
	Handled
)

func (d Disposition) String() string {
	if d == Handled {
		return "handled"
	}
	return "not_handled"
}

// RequestHandler inspects and mutates the context and response. Finalizing the
// response stops the request phase; returning an error faults it.
type RequestHandler interface {
	HandleRequest(c *Chain, ctx *RequestContext, resp *Response) error
}

// ResponseHandler post-processes the response once the request phase ended.
type ResponseHandler interface {
	HandleResponse(c *Chain, ctx *RequestContext, resp *Response) error
}

// ExceptionHandler converts a request-phase fault into a terminal response.
// Returning an error is a secondary fault.
type ExceptionHandler interface {
	HandleException(c *Chain, ctx *RequestContext, resp *Response, fault error) (Disposition, error)
}

// RequestHandlerFunc adapts a function to RequestHandler.
type RequestHandlerFunc func(c *Chain, ctx *RequestContext, resp *Response) error

func (f RequestHandlerFunc) HandleRequest(c *Chain, ctx *RequestContext, resp *Response) error {
	return f(c, ctx, resp)
}

// ResponseHandlerFunc adapts a function to ResponseHandler.
type ResponseHandlerFunc func(c *Chain, ctx *RequestContext, resp *Response) error

func (f ResponseHandlerFunc) HandleResponse(c *Chain, ctx *RequestContext, resp *Response) error {
	return f(c, ctx, resp)
}

// ExceptionHandlerFunc adapts a function to ExceptionHandler.
type ExceptionHandlerFunc func(c *Chain, ctx *RequestContext, resp *Response, fault error) (Disposition, error)

func (f ExceptionHandlerFunc) HandleException(c *Chain, ctx *RequestContext, resp *Response, fault error) (Disposition, error) {
	return f(c, ctx, resp, fault)
}

// Entry is a registered handler with the name used for logs and removal.
type Entry[H any] struct {
	Name    string
	Handler H
}

// Handlers are the three ordered lists a chain runs.
type Handlers struct {
	Request   []Entry[RequestHandler]
	Response  []Entry[ResponseHandler]
	Exception []Entry[ExceptionHandler]
}

// Clone returns a copy whose slices do not alias h.
func (h Handlers) Clone() Handlers {
	return Handlers{
		Request:   append([]Entry[RequestHandler](nil), h.Request...),
		Response:  append([]Entry[ResponseHandler](nil), h.Response...),
		Exception: append([]Entry[ExceptionHandler](nil), h.Exception...),
	}
}

// Len returns the total number of handlers.
func (h Handlers) Len() int {
	return len(h.Request) + len(h.Response) + len(h.Exception)
}

// Names returns the handler names of each list, in order.
func (h Handlers) Names() (request, response, exception []string) {
	for _, e := range h.Request {
		request = append(request, e.Name)
	}
	for _, e := range h.Response {
		response = append(response, e.Name)
	}
	for _, e := range h.Exception {
		exception = append(exception, e.Name)
	}
	return request, response, exception
}
