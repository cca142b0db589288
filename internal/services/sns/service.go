package sns

import (
	"context"
	"sort"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services"
)

// ServiceName is the routing name of the service.
const ServiceName = "sns"

// Tag is a key/value pair on the wire.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type createTopicInput struct {
	Name       string            `json:"Name"`
	Attributes map[string]string `json:"Attributes"`
	Tags       []Tag             `json:"Tags"`
}

type topicArnInput struct {
	TopicArn string `json:"TopicArn"`
}

type setTopicAttributesInput struct {
	TopicArn       string `json:"TopicArn"`
	AttributeName  string `json:"AttributeName"`
	AttributeValue string `json:"AttributeValue"`
}

type subscribeInput struct {
	TopicArn string `json:"TopicArn"`
	Protocol string `json:"Protocol"`
	Endpoint string `json:"Endpoint"`
}

type tagResourceInput struct {
	ResourceArn string `json:"ResourceArn"`
	Tags        []Tag  `json:"Tags"`
}

type untagResourceInput struct {
	ResourceArn string   `json:"ResourceArn"`
	TagKeys     []string `json:"TagKeys"`
}

// Service exposes a Backend through JSON operations.
type Service struct {
	backend *Backend
}

// NewService creates the service over backend.
func NewService(backend *Backend) *Service {
	return &Service{backend: backend}
}

// Backend returns the topic store.
func (s *Service) Backend() *Backend {
	return s.backend
}

func (s *Service) Name() string {
	return ServiceName
}

func (s *Service) Invoke(ctx context.Context, req *services.Request) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch req.Operation {
	case "CreateTopic":
		var in createTopicInput
		if err := services.DecodeInput(req.Input, &in); err != nil {
			return nil, err
		}
		if in.Name == "" {
			return nil, InvalidParameter("Name is required")
		}
		t, err := s.backend.CreateTopic(req.Account, req.Region, in.Name, in.Attributes, tagMap(in.Tags))
		if err != nil {
			return nil, err
		}
		return map[string]string{"TopicArn": t.Arn}, nil

	case "DeleteTopic":
		var in topicArnInput
		if err := decodeArn(req, &in.TopicArn, &in); err != nil {
			return nil, err
		}
		s.backend.DeleteTopic(in.TopicArn)
		return map[string]any{}, nil

	case "ListTopics":
		topics := s.backend.ListTopics(req.Account, req.Region)
		out := make([]map[string]string, 0, len(topics))
		for _, t := range topics {
			out = append(out, map[string]string{"TopicArn": t.Arn})
		}
		return map[string]any{"Topics": out}, nil

	case "GetTopicAttributes":
		var in topicArnInput
		if err := decodeArn(req, &in.TopicArn, &in); err != nil {
			return nil, err
		}
		attrs, err := s.backend.TopicAttributes(in.TopicArn)
		if err != nil {
			return nil, err
		}
		return map[string]any{"Attributes": attrs}, nil

	case "SetTopicAttributes":
		var in setTopicAttributesInput
		if err := decodeArn(req, &in.TopicArn, &in); err != nil {
			return nil, err
		}
		if err := s.backend.SetTopicAttribute(in.TopicArn, in.AttributeName, in.AttributeValue); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case "Subscribe":
		var in subscribeInput
		if err := decodeArn(req, &in.TopicArn, &in); err != nil {
			return nil, err
		}
		sub, err := s.backend.Subscribe(in.TopicArn, in.Protocol, in.Endpoint)
		if err != nil {
			return nil, err
		}
		return map[string]string{"SubscriptionArn": sub.Arn}, nil

	case "ListSubscriptionsByTopic":
		var in topicArnInput
		if err := decodeArn(req, &in.TopicArn, &in); err != nil {
			return nil, err
		}
		subs, err := s.backend.Subscriptions(in.TopicArn)
		if err != nil {
			return nil, err
		}
		if subs == nil {
			subs = []Subscription{}
		}
		return map[string]any{"Subscriptions": subs}, nil

	case "TagResource":
		var in tagResourceInput
		if err := decodeArn(req, &in.ResourceArn, &in); err != nil {
			return nil, err
		}
		if err := s.backend.TagResource(in.ResourceArn, tagMap(in.Tags)); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case "UntagResource":
		var in untagResourceInput
		if err := decodeArn(req, &in.ResourceArn, &in); err != nil {
			return nil, err
		}
		if err := s.backend.UntagResource(in.ResourceArn, in.TagKeys); err != nil {
			return nil, err
		}
		return map[string]any{}, nil

	case "ListTagsForResource":
		var in tagResourceInput
		if err := decodeArn(req, &in.ResourceArn, &in); err != nil {
			return nil, err
		}
		t, err := s.backend.GetTopic(in.ResourceArn)
		if err != nil {
			return nil, err
		}
		return map[string]any{"Tags": tagList(t.Tags)}, nil
	}

	return nil, services.UnknownOperation(ServiceName, req.Operation)
}

// decodeArn decodes req into v and requires the ARN field it points at.
func decodeArn(req *services.Request, arn *string, v any) error {
	if err := services.DecodeInput(req.Input, v); err != nil {
		return err
	}
	if *arn == "" {
		return domain.ErrValidation("resource ARN is required").WithCode("InvalidParameterException")
	}
	return nil
}

func tagMap(tags []Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}

func tagList(tags map[string]string) []Tag {
	out := make([]Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, Tag{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
