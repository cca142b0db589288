package chain

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
)

// DefaultStatus is reported for a response nobody set a status on.
const DefaultStatus = http.StatusOK

// Response is the per-request output built incrementally by handlers.
// A zero status means "not set yet".
type Response struct {
	status    int
	header    http.Header
	body      bytes.Buffer
	finalized bool
}

// NewResponse returns an empty, not finalized response.
func NewResponse() *Response {
	return &Response{header: make(http.Header)}
}

// Header returns the mutable response header map.
func (r *Response) Header() http.Header {
	return r.header
}

// Status returns the raw status, 0 if unset.
func (r *Response) Status() int {
	return r.status
}

// StatusCode returns the status to put on the wire.
func (r *Response) StatusCode() int {
	if r.status == 0 {
		return DefaultStatus
	}
	return r.status
}

// SetStatus sets the status without finalizing.
func (r *Response) SetStatus(code int) {
	r.status = code
}

// Write appends to the body.
func (r *Response) Write(p []byte) (int, error) {
	return r.body.Write(p)
}

// Body returns the body bytes.
func (r *Response) Body() []byte {
	return r.body.Bytes()
}

// SetBody replaces the body.
func (r *Response) SetBody(b []byte) {
	r.body.Reset()
	r.body.Write(b)
}

// SetJSON replaces status and body with the JSON encoding of v.
func (r *Response) SetJSON(status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.status = status
	r.header.Set("Content-Type", "application/json")
	r.SetBody(data)
	return nil
}

// Finalize marks the response as fully answered. The chain stops running
// request handlers once the response is finalized.
func (r *Response) Finalize() {
	r.finalized = true
}

// Finalized reports whether a handler answered the request.
func (r *Response) Finalized() bool {
	return r.finalized
}

// Reset clears status, headers and body. The finalized flag is kept.
func (r *Response) Reset() {
	r.status = 0
	r.header = make(http.Header)
	r.body.Reset()
}

// WriteTo serializes the response onto w.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	h := w.Header()
	for k, vals := range r.header {
		h[k] = append([]string(nil), vals...)
	}
	h.Set("Content-Length", strconv.Itoa(r.body.Len()))
	w.WriteHeader(r.StatusCode())
	_, err := w.Write(r.body.Bytes())
	return err
}

var fallbackBody = []byte(`{"__type":"InternalFailure","message":"internal server error"}`)

// writeFallback overwrites r with the generic server fault response.
func writeFallback(r *Response) {
	r.Reset()
	r.status = http.StatusInternalServerError
	r.header.Set("Content-Type", "application/json")
	r.body.Write(fallbackBody)
	r.finalized = true
}

// FallbackResponse returns a finalized generic server fault response.
func FallbackResponse() *Response {
	r := NewResponse()
	writeFallback(r)
	return r
}
