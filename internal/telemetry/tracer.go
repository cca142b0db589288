package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
)

// InitTracer installs a tracer provider built from cfg as the global one and
// returns its shutdown function. Spans are written to stdout.
func InitTracer(cfg config.TracingConfig, defaults config.DefaultsConfig, logger *slog.Logger) (func(context.Context) error, error) {
	tp, err := NewTracerProvider(cfg, defaults, os.Stdout)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return tp.Shutdown, nil
}

// NewTracerProvider builds a provider exporting to w. Root spans are kept with
// probability cfg.SampleRatio; child spans follow their parent's decision.
func NewTracerProvider(cfg config.TracingConfig, defaults config.DefaultsConfig, w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		attribute.String("gateway.default_account", defaults.Account),
		attribute.String("gateway.default_region", defaults.Region),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	), nil
}
