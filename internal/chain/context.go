package chain

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Well-known request attributes shared between built-in handlers.
const (
	AttrRequestID = "request_id"
	AttrService   = "service"
	AttrOperation = "operation"
	AttrAccount   = "account"
	AttrRegion    = "region"
	AttrInput     = "input"
)

// RequestContext is the per-request state threaded through a chain. It is
// created by the gateway for exactly one request and owned by the chain
// executing it.
type RequestContext struct {
	request   *http.Request
	ctx       context.Context
	startedAt time.Time

	mu         sync.RWMutex
	attrs      map[string]any
	terminated bool
	sealed     bool
}

// NewRequestContext wraps req. The request's context carries cancellation and
// deadlines for the whole chain.
func NewRequestContext(req *http.Request) *RequestContext {
	ctx := context.Background()
	if req != nil {
		ctx = req.Context()
	}
	return &RequestContext{
		request:   req,
		ctx:       ctx,
		startedAt: time.Now(),
		attrs:     make(map[string]any),
	}
}

// Request returns the original transport request.
func (rc *RequestContext) Request() *http.Request {
	return rc.request
}

// Context returns the chain-scoped context.
func (rc *RequestContext) Context() context.Context {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.ctx
}

// Scope replaces the chain-scoped context with ctx until the returned restore
// function is called. ctx must derive from Context() so cancellation still
// applies. Decorators use it to parent a handler's work under their span.
func (rc *RequestContext) Scope(ctx context.Context) (restore func()) {
	rc.mu.Lock()
	prev := rc.ctx
	rc.ctx = ctx
	rc.mu.Unlock()

	return func() {
		rc.mu.Lock()
		rc.ctx = prev
		rc.mu.Unlock()
	}
}

// StartedAt returns when the context was created.
func (rc *RequestContext) StartedAt() time.Time {
	return rc.startedAt
}

// Set stores a request attribute. It fails once the request phase ended.
func (rc *RequestContext) Set(key string, value any) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.terminated || rc.sealed {
		return ErrContextTerminated
	}
	rc.attrs[key] = value
	return nil
}

// Get returns a request attribute.
func (rc *RequestContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	v, ok := rc.attrs[key]
	return v, ok
}

// GetString returns a string attribute or "".
func (rc *RequestContext) GetString(key string) string {
	v, _ := rc.Get(key)
	s, _ := v.(string)
	return s
}

// Attributes returns a copy of all attributes.
func (rc *RequestContext) Attributes() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	out := make(map[string]any, len(rc.attrs))
	for k, v := range rc.attrs {
		out[k] = v
	}
	return out
}

func (rc *RequestContext) RequestID() string { return rc.GetString(AttrRequestID) }
func (rc *RequestContext) Service() string   { return rc.GetString(AttrService) }
func (rc *RequestContext) Operation() string { return rc.GetString(AttrOperation) }
func (rc *RequestContext) Account() string   { return rc.GetString(AttrAccount) }
func (rc *RequestContext) Region() string    { return rc.GetString(AttrRegion) }

// Terminated reports whether the request phase has ended.
func (rc *RequestContext) Terminated() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.terminated
}

// Sealed reports whether the chain that owned the context has completed.
func (rc *RequestContext) Sealed() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.sealed
}

func (rc *RequestContext) terminate() {
	rc.mu.Lock()
	rc.terminated = true
	rc.mu.Unlock()
}

func (rc *RequestContext) seal() {
	rc.mu.Lock()
	rc.terminated = true
	rc.sealed = true
	rc.mu.Unlock()
}
