// Package server exposes the gateway over HTTP: the handler chain for
// service traffic plus a small administrative surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/storage"
)

// Administrative routes.
const (
	HealthPath      = "/_gateway/health"
	InvocationsPath = "/_gateway/invocations"
	HandlersPath    = "/_gateway/handlers"
	MetricsPath     = "/metrics"
)

// Introspector describes the gateway for the administrative routes.
type Introspector interface {
	// HandlerNames returns the registration names of the current handlers.
	HandlerNames() (request, response, exception []string)
	// ServiceNames returns the locally emulated services.
	ServiceNames() []string
}

// Options configures a Server.
type Options struct {
	Addr           string
	RequestTimeout time.Duration
	Gateway        http.Handler
	Introspector   Introspector
	Store          storage.Store
	Gatherer       prometheus.Gatherer
	ServiceName    string
	Logger         *slog.Logger
}

type Server struct {
	Router *chi.Mux

	addr   string
	logger *slog.Logger

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
}

// New builds the router. Every path not claimed by an administrative route
// is served by opts.Gateway.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.ServiceName
	if name == "" {
		name = "cloud-emulator-gateway"
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(middleware.RealIP)
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, name)
	})

	s := &Server{Router: r, addr: opts.Addr, logger: logger}

	r.Get(HealthPath, s.health(opts.Introspector))
	if opts.Introspector != nil {
		r.Get(HandlersPath, s.handlers(opts.Introspector))
	}
	if opts.Store != nil {
		r.Get(InvocationsPath, s.invocations(opts.Store))
	}
	if opts.Gatherer != nil {
		r.Handle(MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Gateway != nil {
		r.Handle("/*", opts.Gateway)
	}

	return s
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound address once started, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) health(info Introspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if info != nil {
			body["services"] = info.ServiceNames()
		}
		s.writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handlers(info Introspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		request, response, exception := info.HandlerNames()
		s.writeJSON(w, http.StatusOK, map[string][]string{
			"request":   request,
			"response":  response,
			"exception": exception,
		})
	}
}

func (s *Server) invocations(store storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := storage.ListOptions{
			Service:   r.URL.Query().Get("service"),
			RequestID: r.URL.Query().Get("request_id"),
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				s.writeJSON(w, http.StatusBadRequest, map[string]string{
					"__type":  "ValidationException",
					"message": "limit must be a non-negative integer",
				})
				return
			}
			opts.Limit = limit
		}

		list, err := store.List(r.Context(), opts)
		if err != nil {
			s.logger.Error("failed to list invocations", slog.String("error", err.Error()))
			s.writeJSON(w, http.StatusInternalServerError, map[string]string{
				"__type":  "InternalFailure",
				"message": "internal server error",
			})
			return
		}
		if list == nil {
			list = []*storage.Invocation{}
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"invocations": list})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}
