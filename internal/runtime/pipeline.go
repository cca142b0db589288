package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/auth"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/handlers"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/resource"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services/cloudcontrol"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services/sns"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage/memory"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage/sqlite"
)

// Deps are the collaborators shared by the default handlers. Nil Store and
// Metrics disable the corresponding response handlers.
type Deps struct {
	Logger     *slog.Logger
	Store      storage.Store
	Services   *services.Registry
	Metrics    *handlers.Metrics
	HTTPClient *http.Client
}

// BuildHandlers assembles the default handler lists for cfg.
func BuildHandlers(cfg *config.Config, deps Deps) (chain.Handlers, error) {
	if cfg == nil {
		return chain.Handlers{}, fmt.Errorf("config cannot be nil")
	}
	if deps.Services == nil {
		return chain.Handlers{}, fmt.Errorf("services registry required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var perf *slog.Logger
	if cfg.PerformanceLogging {
		perf = handlers.PerformanceLogger(logger)
	}

	var h chain.Handlers
	addRequest := func(name string, rh chain.RequestHandler) {
		h.Request = append(h.Request, chain.Entry[chain.RequestHandler]{
			Name:    name,
			Handler: handlers.Timed(name, rh, perf),
		})
	}

	addRequest(handlers.NameRequestID, handlers.RequestID())
	addRequest(handlers.NameParse, handlers.Parse(cfg.Defaults))

	var authenticator *auth.Authenticator
	if cfg.Auth.Enabled {
		authenticator = auth.NewAuthenticator(cfg.Auth)
	}
	addRequest(handlers.NameAuthenticate, handlers.Authenticate(authenticator, cfg.Defaults))

	if cfg.RateLimit.Enabled {
		limiter := handlers.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		addRequest(handlers.NameRateLimit, handlers.RateLimit(limiter))
	}

	if len(cfg.Upstreams) > 0 {
		for _, up := range cfg.Upstreams {
			if up.Service == "" || up.URL == "" {
				return chain.Handlers{}, fmt.Errorf("upstream requires service and url")
			}
		}
		client := deps.HTTPClient
		if client == nil {
			client = handlers.NewUpstreamClient()
		}
		addRequest(handlers.NameForward, handlers.Forward(cfg.Upstreams, client))
	}

	addRequest(handlers.NameRoute, handlers.Route(deps.Services))

	h.Response = append(h.Response,
		chain.Entry[chain.ResponseHandler]{Name: handlers.NameCORS, Handler: handlers.CORS(cfg.CORS.AllowedOrigins)},
		chain.Entry[chain.ResponseHandler]{Name: handlers.NameRequestIDHeader, Handler: handlers.EchoRequestID()},
	)
	if deps.Metrics != nil {
		h.Response = append(h.Response, chain.Entry[chain.ResponseHandler]{Name: handlers.NameMetrics, Handler: deps.Metrics.Handler(knownServices(cfg, deps.Services))})
	}
	if deps.Store != nil {
		h.Response = append(h.Response, chain.Entry[chain.ResponseHandler]{Name: handlers.NameRecord, Handler: handlers.Record(deps.Store)})
	}
	h.Response = append(h.Response, chain.Entry[chain.ResponseHandler]{Name: handlers.NameLog, Handler: handlers.Log(logger)})

	h.Exception = []chain.Entry[chain.ExceptionHandler]{
		{Name: handlers.NameLogFault, Handler: handlers.LogFault(logger)},
		{Name: handlers.NameTranslateFault, Handler: handlers.TranslateFault()},
	}

	return h, nil
}

// DefaultServices returns the built-in emulated services. The resource
// providers operate on the same backends the services expose.
func DefaultServices() []services.Service {
	topics := sns.NewBackend()
	providers := resource.NewRegistry(resource.NewTopicProvider(topics))
	return []services.Service{
		sns.NewService(topics),
		cloudcontrol.NewService(providers),
	}
}

// openStore creates the invocation store described by cfg; "none" yields nil.
func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return memory.NewWithCapacity(cfg.Memory.MaxEntries), nil
	case "none":
		return nil, nil
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return nil, fmt.Errorf("sqlite path required")
		}
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage directory: %w", err)
			}
		}
		return sqlite.New(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// knownServices reports services that are served locally or forwarded.
func knownServices(cfg *config.Config, registry *services.Registry) func(string) bool {
	forwarded := make(map[string]bool, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		forwarded[strings.ToLower(u.Service)] = true
	}
	return func(service string) bool {
		if forwarded[strings.ToLower(service)] {
			return true
		}
		if registry == nil {
			return false
		}
		_, ok := registry.Lookup(service)
		return ok
	}
}
