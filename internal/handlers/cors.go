package handlers

import (
	"strings"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
)

// CORS adds cross-origin headers for allowed origins. An empty list or "*"
// allows every origin.
func CORS(allowedOrigins []string) chain.ResponseHandler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return chain.ResponseHandlerFunc(func(_ *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		req := ctx.Request()
		if req == nil {
			return nil
		}
		origin := req.Header.Get("Origin")
		if origin == "" {
			return nil
		}
		if !allowAll && !allowed[origin] {
			return nil
		}

		h := resp.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Authorization", "Content-Type", TargetHeader, RegionHeader, RequestIDHeader,
		}, ", "))
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		h.Add("Vary", "Origin")
		return nil
	})
}
