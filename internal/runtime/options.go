package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithConfig uses cfg instead of the built-in defaults.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		g.cfg = cfg
		return nil
	}
}

// WithConfigFile loads the configuration from path. Start watches the file
// and reloads the handler lists when it changes.
func WithConfigFile(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		g.configPath = path
		return nil
	}
}

// WithStore uses store for invocation records. The gateway does not close a
// store it did not open.
func WithStore(store storage.Store) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithRegistry registers gateway metrics with reg. When reg is also a
// prometheus.Gatherer it backs the /metrics route.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(g *Gateway) error {
		if reg == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		g.registerer = reg
		if gatherer, ok := reg.(prometheus.Gatherer); ok {
			g.gatherer = gatherer
		}
		return nil
	}
}

// WithHTTPClient sets the client used to reach upstreams.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) error {
		if client == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		g.httpClient = client
		return nil
	}
}

// WithServices registers additional local services. A service replaces a
// built-in one with the same name.
func WithServices(svcs ...services.Service) Option {
	return func(g *Gateway) error {
		g.extraServices = append(g.extraServices, svcs...)
		return nil
	}
}

// WithHandlers installs h instead of the handler lists built from config.
// Config reloads then leave the handler lists alone.
func WithHandlers(h chain.Handlers) Option {
	return func(g *Gateway) error {
		g.initial = ptr(h.Clone())
		return nil
	}
}

func ptr[T any](v T) *T {
	return &v
}
