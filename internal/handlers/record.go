package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
)

// Record persists an invocation record for every request. Records get their
// own id; the request id is kept alongside since callers may reuse it.
func Record(store storage.Store) chain.ResponseHandler {
	return chain.ResponseHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		inv := &storage.Invocation{
			ID:        uuid.NewString(),
			RequestID: ctx.RequestID(),
			Service:   ctx.Service(),
			Operation: ctx.Operation(),
			Account:   ctx.Account(),
			Region:    ctx.Region(),
			Status:    resp.StatusCode(),
			Duration:  time.Since(ctx.StartedAt()),
			CreatedAt: ctx.StartedAt().UTC(),
		}
		if req := ctx.Request(); req != nil {
			inv.Method = req.Method
			inv.Path = req.URL.Path
		}
		if fault := c.Fault(); fault != nil {
			inv.ErrorType = string(domain.AsAPIError(fault).Type)
		}
		// Canceled requests are recorded too.
		if err := store.Record(context.WithoutCancel(ctx.Context()), inv); err != nil {
			return fmt.Errorf("record invocation: %w", err)
		}
		return nil
	})
}
