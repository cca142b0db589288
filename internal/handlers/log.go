package handlers

import (
	"log/slog"
	"time"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

// Log writes one structured access log line per request.
func Log(logger *slog.Logger) chain.ResponseHandler {
	return chain.ResponseHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		attrs := []slog.Attr{
			slog.String("request_id", ctx.RequestID()),
			slog.String("service", ctx.Service()),
			slog.String("operation", ctx.Operation()),
			slog.String("account", ctx.Account()),
			slog.String("region", ctx.Region()),
			slog.Int("status", resp.StatusCode()),
			slog.Duration("duration", time.Since(ctx.StartedAt())),
		}
		if req := ctx.Request(); req != nil {
			attrs = append(attrs,
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("remote_addr", req.RemoteAddr))
		}
		if fault := c.Fault(); fault != nil {
			attrs = append(attrs, slog.String("error", fault.Error()))
		}

		logger.LogAttrs(ctx.Context(), slog.LevelInfo, "request completed", attrs...)
		return nil
	})
}

// LogFault logs the fault and leaves it to later exception handlers.
func LogFault(logger *slog.Logger) chain.ExceptionHandler {
	return chain.ExceptionHandlerFunc(func(_ *chain.Chain, ctx *chain.RequestContext, _ *chain.Response, fault error) (chain.Disposition, error) {
		level := slog.LevelWarn
		if apiErr := domain.AsAPIError(fault); apiErr.Type == domain.ErrorTypeServer {
			level = slog.LevelError
		}
		logger.LogAttrs(ctx.Context(), level, "request failed",
			slog.String("request_id", ctx.RequestID()),
			slog.String("service", ctx.Service()),
			slog.String("operation", ctx.Operation()),
			slog.Bool("panic", chain.IsPanic(fault)),
			slog.String("error", fault.Error()))
		return chain.NotHandled, nil
	})
}

// TranslateFault renders the fault as a JSON error response and claims it.
func TranslateFault() chain.ExceptionHandler {
	return chain.ExceptionHandlerFunc(func(_ *chain.Chain, _ *chain.RequestContext, resp *chain.Response, fault error) (chain.Disposition, error) {
		if err := writeError(resp, domain.AsAPIError(fault)); err != nil {
			return chain.NotHandled, err
		}
		return chain.Handled, nil
	})
}
