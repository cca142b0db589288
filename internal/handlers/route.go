package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
)

// Route dispatches the operation to a local service and writes its result.
func Route(registry *services.Registry) chain.RequestHandler {
	return chain.RequestHandlerFunc(func(_ *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		svc, ok := registry.Lookup(ctx.Service())
		if !ok {
			return domain.ErrNotFound(fmt.Sprintf("service %q is not available", ctx.Service()))
		}

		input, _ := ctx.Get(chain.AttrInput)
		raw, _ := input.(json.RawMessage)

		result, err := svc.Invoke(ctx.Context(), &services.Request{
			Account:   ctx.Account(),
			Region:    ctx.Region(),
			Operation: ctx.Operation(),
			Input:     raw,
		})
		if err != nil {
			return err
		}

		if err := resp.SetJSON(http.StatusOK, result); err != nil {
			return fmt.Errorf("encode %s.%s result: %w", ctx.Service(), ctx.Operation(), err)
		}
		resp.Finalize()
		return nil
	})
}
