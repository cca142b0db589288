package handlers

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
)

const tracerName = "github.com/tjfontaine/cloud-emulator-gateway/internal/handlers"

// PerformanceLogger returns the logger Timed writes call timings to.
func PerformanceLogger(logger *slog.Logger) *slog.Logger {
	return logger.With(slog.String("logger", "performance"))
}

// Timed wraps h in a tracing span. While h runs the request context carries
// the span, so spans h starts (such as upstream calls) are its children. When
// perf is not nil each call is also logged as
// "handler_call:<ms>,<service>,<operation>".
func Timed(name string, h chain.RequestHandler, perf *slog.Logger) chain.RequestHandler {
	tracer := otel.Tracer(tracerName)

	return chain.RequestHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		spanCtx, span := tracer.Start(ctx.Context(), "handler."+name)
		defer span.End()

		restore := ctx.Scope(spanCtx)
		start := time.Now()
		err := h.HandleRequest(c, ctx, resp)
		took := time.Since(start)
		restore()

		span.SetAttributes(
			attribute.String("gateway.handler", name),
			attribute.String("gateway.service", ctx.Service()),
			attribute.String("gateway.operation", ctx.Operation()),
			attribute.Bool("gateway.finalized", resp.Finalized()),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		if perf != nil {
			perf.Info(fmt.Sprintf("handler_call:%.3f,%s,%s",
				float64(took)/float64(time.Millisecond), ctx.Service(), ctx.Operation()),
				slog.String("handler", name))
		}
		return err
	})
}
