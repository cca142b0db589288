// Package services defines the emulated service endpoints the Route handler
// dispatches to.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

// Request is one operation call against a service.
type Request struct {
	Account   string
	Region    string
	Operation string
	Input     json.RawMessage
}

// Service is an emulated service endpoint.
type Service interface {
	// Name returns the service identifier used in routing, e.g. "sns".
	Name() string
	// Invoke executes an operation and returns a JSON-serializable result.
	Invoke(ctx context.Context, req *Request) (any, error)
}

// Registry maps service names to services.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry creates a registry holding svcs.
func NewRegistry(svcs ...Service) *Registry {
	r := &Registry{services: make(map[string]Service)}
	for _, s := range svcs {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a service.
func (r *Registry) Register(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[strings.ToLower(s.Name())] = s
}

// Lookup finds a service by case-insensitive name.
func (r *Registry) Lookup(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[strings.ToLower(name)]
	return s, ok
}

// Names returns the registered service names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for n := range r.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DecodeInput unmarshals an operation input, mapping failures to a
// validation error.
func DecodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return domain.ErrValidation(fmt.Sprintf("invalid input: %v", err)).
			WithCode(domain.ErrorCodeSerialization)
	}
	return nil
}

// UnknownOperation is the error services return for unsupported operations.
func UnknownOperation(service, op string) error {
	return domain.ErrValidation(fmt.Sprintf("operation %s is not supported by %s", op, service)).
		WithCode(domain.ErrorCodeUnknownOperation)
}
