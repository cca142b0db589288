package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

// hopHeaders are not copied from upstream responses.
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Content-Length":    true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

// NewUpstreamClient returns an HTTP client with an instrumented transport.
func NewUpstreamClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Forward proxies operations of services with a configured upstream and
// finalizes the response with the upstream answer. Requests for other
// services pass through.
func Forward(upstreams []config.UpstreamConfig, client *http.Client) chain.RequestHandler {
	targets := make(map[string]config.UpstreamConfig, len(upstreams))
	for _, u := range upstreams {
		targets[strings.ToLower(u.Service)] = u
	}
	if client == nil {
		client = NewUpstreamClient()
	}

	return chain.RequestHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		upstream, ok := targets[ctx.Service()]
		if !ok {
			return nil
		}

		reqCtx := ctx.Context()
		if upstream.Timeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(reqCtx, upstream.Timeout)
			defer cancel()
		}

		input, _ := ctx.Get(chain.AttrInput)
		body, _ := input.(json.RawMessage)

		out, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(upstream.URL, "/")+"/", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build upstream request: %w", err)
		}
		out.Header.Set("Content-Type", "application/json")
		out.Header.Set(TargetHeader, ctx.Service()+"."+ctx.Operation())
		out.Header.Set(RegionHeader, ctx.Region())
		if id := ctx.RequestID(); id != "" {
			out.Header.Set(RequestIDHeader, id)
		}

		start := time.Now()
		upstreamResp, err := client.Do(out)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return err
			}
			return domain.ErrUnavailable(fmt.Sprintf("upstream %s unavailable", upstream.Service))
		}
		defer upstreamResp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(upstreamResp.Body, maxBodyBytes+1))
		if err != nil {
			return domain.ErrUnavailable(fmt.Sprintf("read upstream %s response: %v", upstream.Service, err))
		}
		if len(data) > maxBodyBytes {
			return domain.ErrUnavailable(fmt.Sprintf("upstream %s response exceeds %d bytes", upstream.Service, maxBodyBytes)).
				WithStatusCode(http.StatusBadGateway)
		}

		c.Logger().Debug("forwarded request",
			slog.String("request_id", ctx.RequestID()),
			slog.String("service", ctx.Service()),
			slog.String("operation", ctx.Operation()),
			slog.String("upstream", upstream.URL),
			slog.Int("status", upstreamResp.StatusCode),
			slog.Duration("duration", time.Since(start)))

		for k, vals := range upstreamResp.Header {
			if hopHeaders[http.CanonicalHeaderKey(k)] {
				continue
			}
			resp.Header()[k] = append([]string(nil), vals...)
		}
		resp.SetStatus(upstreamResp.StatusCode)
		resp.SetBody(data)
		resp.Finalize()
		return nil
	})
}
