package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

// Metrics holds the request collectors of the gateway.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Collectors
// already registered by an earlier call are reused, so handler lists can be
// rebuilt against the same registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "requests_total",
		Help:      "Requests processed by the handler chain.",
	}, []string{"service", "operation", "status"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "request_duration_seconds",
		Help:      "Time from chain start to the response phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "operation"})

	var err error
	if requests, err = register(reg, requests); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &Metrics{requests: requests, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Handler returns the response handler observing every request. Service and
// operation come from the client, so they are only used as label values when
// known reports the service and the operation was not rejected; everything
// else is counted as "unknown" to keep the series set bounded.
func (m *Metrics) Handler(known func(service string) bool) chain.ResponseHandler {
	return chain.ResponseHandlerFunc(func(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response) error {
		service, operation := labels(c, ctx, resp, known)
		m.requests.WithLabelValues(service, operation, strconv.Itoa(resp.StatusCode())).Inc()
		m.duration.WithLabelValues(service, operation).Observe(time.Since(ctx.StartedAt()).Seconds())
		return nil
	})
}

const unknownLabel = "unknown"

func labels(c *chain.Chain, ctx *chain.RequestContext, resp *chain.Response, known func(string) bool) (string, string) {
	service, operation := ctx.Service(), ctx.Operation()
	if service == "" || known == nil || !known(service) {
		return unknownLabel, unknownLabel
	}
	service = strings.ToLower(service)

	switch fault := c.Fault(); {
	case fault != nil:
		var apiErr *domain.APIError
		if errors.As(fault, &apiErr) && apiErr.WireCode() == domain.ErrorCodeUnknownOperation {
			operation = ""
		}
	case resp.StatusCode() >= http.StatusBadRequest:
		// Forwarded error answers: the upstream may not know the operation either.
		operation = ""
	}
	if operation == "" {
		operation = unknownLabel
	}
	return service, operation
}
