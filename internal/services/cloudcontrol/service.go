// Package cloudcontrol exposes resource providers as a JSON service so that
// declarative resources can be managed through the gateway.
package cloudcontrol

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/resource"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
)

// ServiceName is the routing name of the service.
const ServiceName = "cloudcontrol"

type resourceInput struct {
	TypeName     string          `json:"TypeName"`
	Identifier   string          `json:"Identifier"`
	DesiredState json.RawMessage `json:"DesiredState"`
	ClientToken  string          `json:"ClientToken"`
}

// ProgressEvent is the wire form of a resource operation outcome.
type ProgressEvent struct {
	TypeName        string `json:"TypeName"`
	Identifier      string `json:"Identifier,omitempty"`
	RequestToken    string `json:"RequestToken"`
	Operation       string `json:"Operation"`
	OperationStatus string `json:"OperationStatus"`
	ErrorCode       string `json:"ErrorCode,omitempty"`
	StatusMessage   string `json:"StatusMessage,omitempty"`
	ResourceModel   string `json:"ResourceModel,omitempty"`
}

// ResourceDescription is the wire form of a read resource.
type ResourceDescription struct {
	Identifier string `json:"Identifier"`
	Properties string `json:"Properties"`
}

// Service dispatches resource operations to a provider registry.
type Service struct {
	providers *resource.Registry
}

// NewService creates the service over providers.
func NewService(providers *resource.Registry) *Service {
	return &Service{providers: providers}
}

func (s *Service) Name() string {
	return ServiceName
}

func (s *Service) Invoke(ctx context.Context, req *services.Request) (any, error) {
	var action resource.Action
	switch req.Operation {
	case "CreateResource":
		action = resource.ActionCreate
	case "GetResource":
		action = resource.ActionRead
	case "UpdateResource":
		action = resource.ActionUpdate
	case "DeleteResource":
		action = resource.ActionDelete
	default:
		return nil, services.UnknownOperation(ServiceName, req.Operation)
	}

	var in resourceInput
	if err := services.DecodeInput(req.Input, &in); err != nil {
		return nil, err
	}
	if in.TypeName == "" {
		return nil, domain.ErrValidation("TypeName is required")
	}
	if action != resource.ActionCreate && in.Identifier == "" {
		return nil, domain.ErrValidation("Identifier is required")
	}

	state, err := desiredState(in.DesiredState)
	if err != nil {
		return nil, err
	}

	token := in.ClientToken
	if token == "" {
		token = uuid.NewString()
	}

	event, err := s.providers.Execute(ctx, action, &resource.Request{
		RequestToken: token,
		TypeName:     in.TypeName,
		Identifier:   in.Identifier,
		Account:      req.Account,
		Region:       req.Region,
		DesiredState: state,
	})
	if err != nil {
		return nil, err
	}

	identifier := in.Identifier
	if p, ok := s.providers.Lookup(in.TypeName); ok {
		if id, ok := p.(resource.Identifier); ok && event.ResourceModel != nil {
			if derived := id.Identify(event.ResourceModel); derived != "" {
				identifier = derived
			}
		}
	}

	if action == resource.ActionRead && event.Status == resource.StatusSuccess {
		props, err := json.Marshal(event.ResourceModel)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"TypeName": in.TypeName,
			"ResourceDescription": ResourceDescription{
				Identifier: identifier,
				Properties: string(props),
			},
		}, nil
	}

	out := ProgressEvent{
		TypeName:        in.TypeName,
		Identifier:      identifier,
		RequestToken:    token,
		Operation:       string(action),
		OperationStatus: string(event.Status),
		ErrorCode:       event.ErrorCode,
		StatusMessage:   event.Message,
	}
	if len(event.ResourceModel) > 0 {
		model, err := json.Marshal(event.ResourceModel)
		if err != nil {
			return nil, err
		}
		out.ResourceModel = string(model)
	}
	return map[string]any{"ProgressEvent": out}, nil
}

// desiredState accepts the state either as a JSON document or as a string
// holding one.
func desiredState(raw json.RawMessage) (resource.Properties, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return resource.Properties{}, nil
	}

	if raw[0] == '"' {
		var doc string
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, invalidState(err)
		}
		raw = json.RawMessage(doc)
	}

	var state resource.Properties
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, invalidState(err)
	}
	return state, nil
}

func invalidState(err error) error {
	return domain.ErrValidation("invalid DesiredState: " + err.Error()).
		WithCode(domain.ErrorCodeSerialization)
}
