package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/services/sns"
)

// TopicType is the resource type handled by TopicProvider.
const TopicType = "AWS::SNS::Topic"

// Model keys that are not topic attributes.
const (
	propTopicName    = "TopicName"
	propTopicArn     = "TopicArn"
	propSubscription = "Subscription"
	propTags         = "Tags"
	propArchive      = "ArchivePolicy"
)

// createOnly properties cannot change after creation.
var createOnly = []string{propTopicName, sns.AttrFifoTopic}

// boolAttributes are stored as "true"/"false" and read back as booleans.
var boolAttributes = map[string]bool{
	sns.AttrFifoTopic:                 true,
	sns.AttrContentBasedDeduplication: true,
}

// readAttributes are copied from topic attributes into the read model.
var readAttributes = []string{
	sns.AttrDisplayName,
	sns.AttrKmsMasterKeyID,
	sns.AttrSignatureVersion,
	sns.AttrTracingConfig,
	sns.AttrFifoTopic,
	sns.AttrContentBasedDeduplication,
	sns.AttrDataProtectionPolicy,
	propArchive,
}

// TopicProvider manages topics in an sns backend.
type TopicProvider struct {
	backend *sns.Backend
}

// NewTopicProvider creates a provider over backend.
func NewTopicProvider(backend *sns.Backend) *TopicProvider {
	return &TopicProvider{backend: backend}
}

func (p *TopicProvider) Type() string {
	return TopicType
}

func (p *TopicProvider) Create(ctx context.Context, req *Request) (*ProgressEvent, error) {
	model := cloneProperties(req.DesiredState)

	// A retried create whose topic already exists reports the stored model.
	if arn, _ := model[propTopicArn].(string); arn != "" {
		if _, err := p.backend.GetTopic(arn); err == nil {
			return Success(model), nil
		}
	}

	attrs, err := topicAttributes(model)
	if err != nil {
		return nil, err
	}
	subs, err := subscriptions(model[propSubscription])
	if err != nil {
		return nil, err
	}
	tags, err := tagMap(model[propTags])
	if err != nil {
		return nil, err
	}

	name, _ := model[propTopicName].(string)
	if name == "" {
		name = "topic-" + shortUID()
		if attrs[sns.AttrFifoTopic] == "true" {
			name += ".fifo"
		}
		model[propTopicName] = name
	}

	topic, err := p.backend.CreateTopic(req.Account, req.Region, name, attrs, nil)
	if err != nil {
		return nil, err
	}
	model[propTopicArn] = topic.Arn

	for _, s := range subs {
		if _, err := p.backend.Subscribe(topic.Arn, s.Protocol, s.Endpoint); err != nil {
			return nil, err
		}
	}

	if len(tags) > 0 {
		if err := p.backend.TagResource(topic.Arn, tags); err != nil {
			return nil, err
		}
	}

	return &ProgressEvent{
		Status:        StatusSuccess,
		ResourceModel: model,
		CustomContext: req.CustomContext,
	}, nil
}

func (p *TopicProvider) Read(ctx context.Context, req *Request) (*ProgressEvent, error) {
	arn := topicArn(req)
	if arn == "" {
		return Failed(ErrorCodeInvalidRequest, "TopicArn is required"), nil
	}

	topic, err := p.backend.GetTopic(arn)
	if err != nil {
		return nil, err
	}

	model := Properties{
		propTopicArn:  topic.Arn,
		propTopicName: topic.Name,
	}
	for _, key := range readAttributes {
		v, ok := topic.Attributes[key]
		if !ok {
			continue
		}
		if boolAttributes[key] {
			b, _ := strconv.ParseBool(v)
			model[key] = b
			continue
		}
		model[key] = v
	}

	if len(topic.Tags) > 0 {
		keys := make([]string, 0, len(topic.Tags))
		for k := range topic.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		tags := make([]any, 0, len(keys))
		for _, k := range keys {
			tags = append(tags, map[string]any{"Key": k, "Value": topic.Tags[k]})
		}
		model[propTags] = tags
	}

	if len(topic.Subscriptions) > 0 {
		subs := make([]any, 0, len(topic.Subscriptions))
		for _, s := range topic.Subscriptions {
			subs = append(subs, map[string]any{"Protocol": s.Protocol, "Endpoint": s.Endpoint})
		}
		model[propSubscription] = subs
	}

	return Success(model), nil
}

func (p *TopicProvider) Update(ctx context.Context, req *Request) (*ProgressEvent, error) {
	arn := topicArn(req)
	if arn == "" {
		return Failed(ErrorCodeInvalidRequest, "TopicArn is required"), nil
	}

	current, err := p.backend.GetTopic(arn)
	if err != nil {
		return nil, err
	}

	desired := req.DesiredState
	for _, key := range createOnly {
		v, ok := desired[key]
		if !ok {
			continue
		}
		if key == propTopicName && v != current.Name {
			return Failed(ErrorCodeNotUpdatable, "property cannot be updated: "+key), nil
		}
		if key == sns.AttrFifoTopic && canonicalBool(v) != canonicalBool(current.Attributes[key]) &&
			!(canonicalBool(v) == "false" && current.Attributes[key] == "") {
			return Failed(ErrorCodeNotUpdatable, "property cannot be updated: "+key), nil
		}
	}

	attrs, err := topicAttributes(desired)
	if err != nil {
		return nil, err
	}
	delete(attrs, sns.AttrFifoTopic)
	delete(attrs, propTopicArn)
	for name, value := range attrs {
		if current.Attributes[name] == value {
			continue
		}
		if err := p.backend.SetTopicAttribute(arn, name, value); err != nil {
			return nil, err
		}
	}

	if raw, ok := desired[propTags]; ok {
		tags, err := tagMap(raw)
		if err != nil {
			return nil, err
		}
		var removed []string
		for k := range current.Tags {
			if _, keep := tags[k]; !keep {
				removed = append(removed, k)
			}
		}
		if err := p.backend.UntagResource(arn, removed); err != nil {
			return nil, err
		}
		if err := p.backend.TagResource(arn, tags); err != nil {
			return nil, err
		}
	}

	if raw, ok := desired[propSubscription]; ok {
		subs, err := subscriptions(raw)
		if err != nil {
			return nil, err
		}
		for _, s := range subs {
			if _, err := p.backend.Subscribe(arn, s.Protocol, s.Endpoint); err != nil {
				return nil, err
			}
		}
	}

	return p.Read(ctx, &Request{Identifier: arn})
}

func (p *TopicProvider) Delete(ctx context.Context, req *Request) (*ProgressEvent, error) {
	arn := topicArn(req)
	if arn == "" {
		return Failed(ErrorCodeInvalidRequest, "TopicArn is required"), nil
	}
	p.backend.DeleteTopic(arn)
	return Success(Properties{}), nil
}

func topicArn(req *Request) string {
	if arn, _ := req.DesiredState[propTopicArn].(string); arn != "" {
		return arn
	}
	return req.Identifier
}

// topicAttributes converts model properties into topic attributes.
func topicAttributes(model Properties) (map[string]string, error) {
	attrs := make(map[string]string)
	for k, v := range model {
		if v == nil {
			continue
		}
		switch k {
		case propTopicName, propSubscription, propTags, propTopicArn:
			continue
		case propArchive:
			in, ok := v.(map[string]any)
			if !ok {
				return nil, invalidProperty(k)
			}
			policy := make(map[string]any, len(in))
			for pk, pv := range in {
				policy[pk] = pv
			}
			if period, ok := policy["MessageRetentionPeriod"]; ok {
				policy["MessageRetentionPeriod"] = attributeString(period)
			}
			b, err := json.Marshal(policy)
			if err != nil {
				return nil, invalidProperty(k)
			}
			attrs[k] = string(b)
		default:
			if boolAttributes[k] {
				attrs[k] = canonicalBool(v)
				continue
			}
			attrs[k] = attributeString(v)
		}
	}
	return attrs, nil
}

// canonicalBool renders booleans and boolean-like strings as "true" or
// "false".
func canonicalBool(v any) string {
	if s, ok := v.(string); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return strconv.FormatBool(b)
		}
	}
	return attributeString(v)
}

// attributeString renders a property value as an attribute string.
func attributeString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

type subscription struct {
	Protocol string
	Endpoint string
}

func subscriptions(raw any) ([]subscription, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, invalidProperty(propSubscription)
	}
	out := make([]subscription, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, invalidProperty(propSubscription)
		}
		protocol, _ := m["Protocol"].(string)
		endpoint, _ := m["Endpoint"].(string)
		out = append(out, subscription{Protocol: protocol, Endpoint: endpoint})
	}
	return out, nil
}

func tagMap(raw any) (map[string]string, error) {
	tags := make(map[string]string)
	if raw == nil {
		return tags, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, invalidProperty(propTags)
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, invalidProperty(propTags)
		}
		key, _ := m["Key"].(string)
		value, _ := m["Value"].(string)
		tags[key] = value
	}
	return tags, nil
}

func invalidProperty(name string) error {
	return sns.InvalidParameter("invalid property " + name)
}

func shortUID() string {
	return uuid.NewString()[:8]
}

func cloneProperties(p Properties) Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Identify returns the topic ARN, the primary identifier of a topic.
func (p *TopicProvider) Identify(model Properties) string {
	arn, _ := model[propTopicArn].(string)
	return arn
}
