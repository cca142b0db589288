package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

const (
	// TargetHeader names the operation as "<service>.<Operation>".
	TargetHeader = "X-Amz-Target"
	// RegionHeader selects the region of the request.
	RegionHeader = "X-Gateway-Region"

	maxBodyBytes = 10 << 20
)

// Parse resolves the service, operation, region and JSON input of the
// request. Malformed input answers 400 directly.
func Parse(defaults config.DefaultsConfig) chain.RequestHandler {
	return chain.RequestHandlerFunc(func(_ *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		req := ctx.Request()
		if req == nil {
			return domain.ErrValidation("no request")
		}

		service, operation, ok := resolveTarget(req)
		if !ok {
			return domain.ErrValidation("unable to determine service and operation").
				WithCode(domain.ErrorCodeUnknownOperation)
		}

		input, err := readInput(req)
		if err != nil {
			return writeError(resp, domain.ErrValidation(err.Error()).WithCode(domain.ErrorCodeSerialization))
		}

		region := req.Header.Get(RegionHeader)
		if region == "" {
			region = defaults.Region
		}

		for k, v := range map[string]any{
			chain.AttrService:   service,
			chain.AttrOperation: operation,
			chain.AttrRegion:    region,
			chain.AttrInput:     input,
		} {
			if err := ctx.Set(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// resolveTarget reads the target header, falling back to /<service>/<Operation>.
func resolveTarget(req *http.Request) (service, operation string, ok bool) {
	if target := req.Header.Get(TargetHeader); target != "" {
		i := strings.LastIndex(target, ".")
		if i <= 0 || i == len(target)-1 {
			return "", "", false
		}
		return strings.ToLower(target[:i]), target[i+1:], true
	}

	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return strings.ToLower(parts[0]), parts[1], true
}

func readInput(req *http.Request) (json.RawMessage, error) {
	if req.Body == nil {
		return json.RawMessage(`{}`), nil
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBodyBytes)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(body), nil
}

// errorBody is the wire form of an error response.
type errorBody struct {
	Type    domain.ErrorCode `json:"__type"`
	Message string           `json:"message"`
}

// writeError renders apiErr onto resp and finalizes it.
func writeError(resp *chain.Response, apiErr *domain.APIError) error {
	resp.Reset()
	if err := resp.SetJSON(apiErr.HTTPStatusCode(), errorBody{
		Type:    apiErr.WireCode(),
		Message: apiErr.Message,
	}); err != nil {
		return err
	}
	resp.Finalize()
	return nil
}
