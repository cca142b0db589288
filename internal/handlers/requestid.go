package handlers

import (
	"github.com/google/uuid"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
)

// RequestIDHeader is the header carrying the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns a request id, honouring an inbound X-Request-ID.
func RequestID() chain.RequestHandler {
	return chain.RequestHandlerFunc(func(_ *chain.Chain, ctx *chain.RequestContext, _ *chain.Response) error {
		id := ""
		if req := ctx.Request(); req != nil {
			id = req.Header.Get(RequestIDHeader)
		}
		if id == "" {
			id = uuid.New().String()
		}
		return ctx.Set(chain.AttrRequestID, id)
	})
}

// EchoRequestID copies the request id onto the response.
func EchoRequestID() chain.ResponseHandler {
	return chain.ResponseHandlerFunc(func(_ *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		if id := ctx.RequestID(); id != "" {
			resp.Header().Set(RequestIDHeader, id)
		}
		return nil
	})
}
