// Package resource implements the resource provider contract: typed CRUD
// handlers for declarative resources, addressed by type name.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

// OperationStatus is the state of a resource operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "PENDING"
	StatusInProgress OperationStatus = "IN_PROGRESS"
	StatusSuccess    OperationStatus = "SUCCESS"
	StatusFailed     OperationStatus = "FAILED"
)

// Action is a provider operation.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Error codes carried by failed progress events.
const (
	ErrorCodeNotFound       = "NotFound"
	ErrorCodeNotUpdatable   = "NotUpdatable"
	ErrorCodeInvalidRequest = "InvalidRequest"
	ErrorCodeAlreadyExists  = "AlreadyExists"
	ErrorCodeInternal       = "InternalFailure"
)

// Properties is a resource model: the JSON properties of one resource.
type Properties map[string]any

// Request is the input of a provider operation.
type Request struct {
	RequestToken  string
	TypeName      string
	Identifier    string
	Account       string
	Region        string
	DesiredState  Properties
	PreviousState Properties
	CustomContext map[string]any
}

// ProgressEvent reports the outcome of a provider operation.
type ProgressEvent struct {
	Status        OperationStatus `json:"Status"`
	ResourceModel Properties      `json:"ResourceModel,omitempty"`
	Message       string          `json:"Message,omitempty"`
	ErrorCode     string          `json:"ErrorCode,omitempty"`
	CustomContext map[string]any  `json:"CustomContext,omitempty"`
}

// Success returns a successful event for model.
func Success(model Properties) *ProgressEvent {
	return &ProgressEvent{Status: StatusSuccess, ResourceModel: model}
}

// Failed returns a failed event.
func Failed(code, message string) *ProgressEvent {
	return &ProgressEvent{Status: StatusFailed, ErrorCode: code, Message: message}
}

// Provider handles the lifecycle of one resource type.
type Provider interface {
	// Type returns the resource type name, e.g. "AWS::SNS::Topic".
	Type() string
	Create(ctx context.Context, req *Request) (*ProgressEvent, error)
	Read(ctx context.Context, req *Request) (*ProgressEvent, error)
	Update(ctx context.Context, req *Request) (*ProgressEvent, error)
	Delete(ctx context.Context, req *Request) (*ProgressEvent, error)
}

// ErrTypeNotFound is returned for unregistered resource types.
var ErrTypeNotFound = errors.New("resource type not found")

// Registry maps resource type names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the provider for p.Type().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Type()] = p
}

// Lookup returns the provider for typeName.
func (r *Registry) Lookup(typeName string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[typeName]
	return p, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Execute runs action against the provider registered for req.TypeName.
// Provider errors that carry an API error become FAILED events; other errors
// are returned.
func (r *Registry) Execute(ctx context.Context, action Action, req *Request) (*ProgressEvent, error) {
	p, ok := r.Lookup(req.TypeName)
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("%s: %s", ErrTypeNotFound, req.TypeName)).
			WithCode("TypeNotFoundException")
	}

	var (
		event *ProgressEvent
		err   error
	)
	switch action {
	case ActionCreate:
		event, err = p.Create(ctx, req)
	case ActionRead:
		event, err = p.Read(ctx, req)
	case ActionUpdate:
		event, err = p.Update(ctx, req)
	case ActionDelete:
		event, err = p.Delete(ctx, req)
	default:
		return nil, domain.ErrValidation("unknown resource action: " + string(action))
	}

	if err != nil {
		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			return Failed(eventCode(apiErr), apiErr.Message), nil
		}
		return nil, err
	}
	if event.CustomContext == nil && req.CustomContext != nil {
		event.CustomContext = req.CustomContext
	}
	return event, nil
}

func eventCode(err *domain.APIError) string {
	switch err.Type {
	case domain.ErrorTypeNotFound:
		return ErrorCodeNotFound
	case domain.ErrorTypeValidation:
		return ErrorCodeInvalidRequest
	case domain.ErrorTypeConflict:
		return ErrorCodeAlreadyExists
	default:
		return ErrorCodeInternal
	}
}

// Identifier is implemented by providers that can derive the primary
// identifier of a resource from its model.
type Identifier interface {
	Identify(model Properties) string
}
