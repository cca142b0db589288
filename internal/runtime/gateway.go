// Package runtime provides the Gateway: the registry of handler lists, the
// per-request chain factory and the process lifecycle around them.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/chain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/handlers"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/server"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
)

// Gateway routes every request through a fresh chain built from the current
// handler snapshot. Gateways share no mutable state with each other.
type Gateway struct {
	// Dependencies (injected via options)
	logger        *slog.Logger
	cfg           *config.Config
	configPath    string
	store         storage.Store
	ownsStore     bool
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer
	httpClient    *http.Client
	extraServices []services.Service
	initial       *chain.Handlers

	// Internal state
	services *services.Registry
	metrics  *handlers.Metrics

	// handlers is replaced wholesale; writers serialize on mu, which also
	// guards the fields below.
	handlers atomic.Pointer[chain.Handlers]
	mu       sync.Mutex
	custom   bool
	// Runtime edits replayed over config-built lists on Reload.
	appended chain.Handlers
	removed  map[string]bool

	// Lifecycle management
	lifecycle sync.Mutex
	server    *server.Server
	watcher   *config.Watcher
	cancel    context.CancelFunc
}

// New creates a Gateway. Without options it uses the built-in configuration,
// the built-in services, an in-memory store and a private metrics registry.
func New(opts ...Option) (*Gateway, error) {
	g := &Gateway{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if g.cfg == nil {
		g.cfg = config.Default()
	}
	if g.registerer == nil {
		reg := prometheus.NewRegistry()
		g.registerer, g.gatherer = reg, reg
	}
	if g.httpClient == nil {
		g.httpClient = handlers.NewUpstreamClient()
	}

	g.services = services.NewRegistry(DefaultServices()...)
	for _, svc := range g.extraServices {
		g.services.Register(svc)
	}

	if g.store == nil {
		store, err := openStore(g.cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		g.store, g.ownsStore = store, store != nil
	}

	metrics, err := handlers.NewMetrics(g.registerer)
	if err != nil {
		g.closeStore()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	g.metrics = metrics

	if g.initial != nil {
		g.custom = true
		g.handlers.Store(g.initial)
		return g, nil
	}

	h, err := BuildHandlers(g.cfg, g.deps())
	if err != nil {
		g.closeStore()
		return nil, fmt.Errorf("build handlers: %w", err)
	}
	g.handlers.Store(&h)

	return g, nil
}

func (g *Gateway) deps() Deps {
	return Deps{
		Logger:     g.logger,
		Store:      g.store,
		Services:   g.services,
		Metrics:    g.metrics,
		HTTPClient: g.httpClient,
	}
}

// Handlers returns the current snapshot. Callers must treat it as read-only.
func (g *Gateway) Handlers() chain.Handlers {
	return *g.handlers.Load()
}

// SetHandlers replaces all three handler lists. The gateway stops deriving
// its lists from configuration: later reloads keep h and any edits made to it.
func (g *Gateway) SetHandlers(h chain.Handlers) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.custom = true
	g.appended = chain.Handlers{}
	g.removed = nil
	g.handlers.Store(ptr(h.Clone()))
}

// AppendRequestHandler adds a request handler at the end of the request list.
func (g *Gateway) AppendRequestHandler(name string, h chain.RequestHandler) {
	e := chain.Entry[chain.RequestHandler]{Name: name, Handler: h}
	g.update(func(hs *chain.Handlers) {
		hs.Request = append(hs.Request, e)
		g.appended.Request = append(g.appended.Request, e)
	})
}

// AppendResponseHandler adds a response handler at the end of the response list.
func (g *Gateway) AppendResponseHandler(name string, h chain.ResponseHandler) {
	e := chain.Entry[chain.ResponseHandler]{Name: name, Handler: h}
	g.update(func(hs *chain.Handlers) {
		hs.Response = append(hs.Response, e)
		g.appended.Response = append(g.appended.Response, e)
	})
}

// AppendExceptionHandler adds an exception handler at the end of the exception list.
func (g *Gateway) AppendExceptionHandler(name string, h chain.ExceptionHandler) {
	e := chain.Entry[chain.ExceptionHandler]{Name: name, Handler: h}
	g.update(func(hs *chain.Handlers) {
		hs.Exception = append(hs.Exception, e)
		g.appended.Exception = append(g.appended.Exception, e)
	})
}

// Remove drops every handler registered under name from all lists and
// reports whether anything was removed.
func (g *Gateway) Remove(name string) bool {
	removed := false
	g.update(func(hs *chain.Handlers) {
		var n int
		hs.Request, n = without(hs.Request, name)
		removed = removed || n > 0
		hs.Response, n = without(hs.Response, name)
		removed = removed || n > 0
		hs.Exception, n = without(hs.Exception, name)
		removed = removed || n > 0

		g.appended.Request, _ = without(g.appended.Request, name)
		g.appended.Response, _ = without(g.appended.Response, name)
		g.appended.Exception, _ = without(g.appended.Exception, name)
		if g.removed == nil {
			g.removed = make(map[string]bool)
		}
		g.removed[name] = true
	})
	return removed
}

func without[H any](entries []chain.Entry[H], name string) ([]chain.Entry[H], int) {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out, len(entries) - len(out)
}

// replayEdits applies the runtime Append and Remove calls to freshly built
// lists. Callers hold mu.
func (g *Gateway) replayEdits(h chain.Handlers) chain.Handlers {
	for name := range g.removed {
		h.Request, _ = without(h.Request, name)
		h.Response, _ = without(h.Response, name)
		h.Exception, _ = without(h.Exception, name)
	}
	h.Request = append(h.Request, g.appended.Request...)
	h.Response = append(h.Response, g.appended.Response...)
	h.Exception = append(h.Exception, g.appended.Exception...)
	return h
}

func (g *Gateway) update(fn func(*chain.Handlers)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.handlers.Load().Clone()
	fn(&next)
	g.handlers.Store(&next)
}

// NewChain returns a chain bound to the current snapshot.
func (g *Gateway) NewChain() *chain.Chain {
	return chain.New(*g.handlers.Load(), g.logger)
}

// Handle runs a new chain over ctx and resp.
func (g *Gateway) Handle(ctx *chain.RequestContext, resp *chain.Response) error {
	return g.NewChain().Handle(ctx, resp)
}

// Process runs req through a new chain and returns the response. It never
// fails: anything that escapes the chain becomes the generic fault response.
func (g *Gateway) Process(req *http.Request) (resp *chain.Response) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("chain escaped with panic", slog.Any("panic", r))
			resp = chain.FallbackResponse()
		}
	}()

	resp = chain.NewResponse()
	if err := g.Handle(chain.NewRequestContext(req), resp); err != nil {
		g.logger.Error("chain failed", slog.String("error", err.Error()))
		return chain.FallbackResponse()
	}
	return resp
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.Process(r).WriteTo(w); err != nil {
		g.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// HandlerNames returns the registration names of the current snapshot.
func (g *Gateway) HandlerNames() (request, response, exception []string) {
	return g.Handlers().Names()
}

// ServiceNames returns the names of the local services.
func (g *Gateway) ServiceNames() []string {
	return g.services.Names()
}

// Services returns the local service registry.
func (g *Gateway) Services() *services.Registry {
	return g.services
}

// Config returns the active configuration.
func (g *Gateway) Config() *config.Config {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	return g.cfg
}

// Reload rebuilds the handler lists from cfg and swaps them in. Chains
// already running keep their snapshot. Handlers installed with WithHandlers
// are left in place.
func (g *Gateway) Reload(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}

	g.lifecycle.Lock()
	prev := g.cfg
	g.cfg = cfg
	g.lifecycle.Unlock()

	if prev != nil && prev.Server.Port != cfg.Server.Port {
		g.logger.Warn("server port changes require a restart",
			slog.Int("current", prev.Server.Port),
			slog.Int("configured", cfg.Server.Port))
	}

	// Holding mu from build to store keeps concurrent Append and Remove
	// calls from landing on a snapshot that is about to be replaced.
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.custom {
		g.logger.Info("config reloaded, keeping custom handlers")
		return nil
	}

	h, err := BuildHandlers(cfg, g.deps())
	if err != nil {
		return fmt.Errorf("build handlers: %w", err)
	}
	h = g.replayEdits(h)
	g.handlers.Store(&h)

	g.logger.Info("config reloaded", slog.Int("request_handlers", len(h.Request)))
	return nil
}

// Start serves the gateway over HTTP and, when it was configured from a file,
// watches that file for changes.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	if g.server != nil {
		return errors.New("gateway already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	srv := server.New(server.Options{
		Addr:           fmt.Sprintf(":%d", g.cfg.Server.Port),
		RequestTimeout: g.cfg.Server.RequestTimeout,
		Gateway:        g,
		Introspector:   g,
		Store:          g.store,
		Gatherer:       g.gatherer,
		ServiceName:    g.cfg.Tracing.ServiceName,
		Logger:         g.logger,
	})
	if err := srv.Start(); err != nil {
		cancel()
		return fmt.Errorf("start server: %w", err)
	}

	if g.configPath != "" {
		watcher, err := config.NewWatcher(g.configPath, g.logger)
		if err == nil {
			err = watcher.Watch(ctx, func(cfg *config.Config) {
				if err := g.Reload(cfg); err != nil {
					g.logger.Error("failed to apply config", slog.String("error", err.Error()))
				}
			})
		}
		if err != nil {
			g.logger.Warn("config watch disabled", slog.String("error", err.Error()))
		} else {
			g.watcher = watcher
		}
	}

	g.server = srv
	g.cancel = cancel

	g.logger.Info("gateway started", slog.String("addr", srv.Addr()))
	return nil
}

// Addr returns the address the HTTP server is bound to, or "" before Start.
func (g *Gateway) Addr() string {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	if g.server == nil {
		return ""
	}
	return g.server.Addr()
}

// Shutdown stops the server and watcher and closes the store if the gateway
// opened it.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			g.logger.Debug("failed to close watcher", slog.String("error", err.Error()))
		}
		g.watcher = nil
	}

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
		g.server = nil
	}
	if err := g.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

func (g *Gateway) closeStore() error {
	if !g.ownsStore || g.store == nil {
		return nil
	}
	g.ownsStore = false
	return g.store.Close()
}
