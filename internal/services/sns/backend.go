// Package sns emulates a topic-based notification service.
package sns

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
)

// Topic attribute names.
const (
	AttrTopicArn                  = "TopicArn"
	AttrOwner                     = "Owner"
	AttrDisplayName               = "DisplayName"
	AttrFifoTopic                 = "FifoTopic"
	AttrContentBasedDeduplication = "ContentBasedDeduplication"
	AttrKmsMasterKeyID            = "KmsMasterKeyId"
	AttrSignatureVersion          = "SignatureVersion"
	AttrTracingConfig             = "TracingConfig"
	AttrDataProtectionPolicy      = "DataProtectionPolicy"
	AttrSubscriptionsConfirmed    = "SubscriptionsConfirmed"
)

var topicNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// mutableAttributes can be changed with SetTopicAttributes.
var mutableAttributes = map[string]bool{
	AttrDisplayName:               true,
	AttrContentBasedDeduplication: true,
	AttrKmsMasterKeyID:            true,
	AttrSignatureVersion:          true,
	AttrTracingConfig:             true,
	AttrDataProtectionPolicy:      true,
	"ArchivePolicy":               true,
	"Policy":                      true,
	"DeliveryPolicy":              true,
}

// Topic is a stored topic.
type Topic struct {
	Arn           string
	Name          string
	Account       string
	Region        string
	Attributes    map[string]string
	Tags          map[string]string
	Subscriptions []Subscription
}

// Subscription is a topic subscription.
type Subscription struct {
	Arn      string `json:"SubscriptionArn"`
	TopicArn string `json:"TopicArn"`
	Protocol string `json:"Protocol"`
	Endpoint string `json:"Endpoint"`
	Owner    string `json:"Owner"`
}

// Backend stores topics for every account and region.
type Backend struct {
	mu     sync.RWMutex
	topics map[string]*Topic // arn -> topic
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{topics: make(map[string]*Topic)}
}

// TopicArn builds the ARN of a topic.
func TopicArn(region, account, name string) string {
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", region, account, name)
}

// CreateTopic creates a topic. Creating an existing topic with the same
// attributes returns it unchanged.
func (b *Backend) CreateTopic(account, region, name string, attrs, tags map[string]string) (*Topic, error) {
	if err := validateTopicName(name, attrs); err != nil {
		return nil, err
	}

	arn := TopicArn(region, account, name)

	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.topics[arn]; ok {
		for k, v := range attrs {
			if existing.Attributes[k] != v {
				return nil, domain.ErrConflict("topic already exists with different attributes").
					WithCode("InvalidParameterException")
			}
		}
		return existing.clone(), nil
	}

	t := &Topic{
		Arn:        arn,
		Name:       name,
		Account:    account,
		Region:     region,
		Attributes: map[string]string{},
		Tags:       map[string]string{},
	}
	for k, v := range attrs {
		t.Attributes[k] = v
	}
	for k, v := range tags {
		t.Tags[k] = v
	}
	b.topics[arn] = t
	return t.clone(), nil
}

func validateTopicName(name string, attrs map[string]string) error {
	fifo := strings.EqualFold(attrs[AttrFifoTopic], "true")
	base := name
	if strings.HasSuffix(name, ".fifo") {
		if !fifo {
			return InvalidParameter("FIFO topic names require the FifoTopic attribute")
		}
		base = strings.TrimSuffix(name, ".fifo")
	} else if fifo {
		return InvalidParameter("FIFO topic names must end with .fifo")
	}
	if !topicNamePattern.MatchString(base) {
		return InvalidParameter("invalid topic name: " + name)
	}
	return nil
}

// InvalidParameter is the error for rejected request parameters.
func InvalidParameter(msg string) error {
	return domain.ErrValidation(msg).WithCode("InvalidParameterException")
}

func topicNotFound(arn string) error {
	return domain.ErrNotFound("topic does not exist: " + arn).WithCode("NotFoundException")
}

// GetTopic returns a copy of the topic.
func (b *Backend) GetTopic(arn string) (*Topic, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[arn]
	if !ok {
		return nil, topicNotFound(arn)
	}
	return t.clone(), nil
}

// DeleteTopic removes a topic. Deleting a missing topic is not an error.
func (b *Backend) DeleteTopic(arn string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, arn)
}

// ListTopics returns the topics of one account and region sorted by ARN.
func (b *Backend) ListTopics(account, region string) []*Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Topic
	for _, t := range b.topics {
		if t.Account == account && t.Region == region {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Arn < out[j].Arn })
	return out
}

// TopicAttributes returns the full attribute view of a topic.
func (b *Backend) TopicAttributes(arn string) (map[string]string, error) {
	t, err := b.GetTopic(arn)
	if err != nil {
		return nil, err
	}

	attrs := map[string]string{
		AttrTopicArn:               t.Arn,
		AttrOwner:                  t.Account,
		AttrSubscriptionsConfirmed: strconv.Itoa(len(t.Subscriptions)),
	}
	if _, ok := t.Attributes[AttrDisplayName]; !ok {
		attrs[AttrDisplayName] = ""
	}
	for k, v := range t.Attributes {
		attrs[k] = v
	}
	return attrs, nil
}

// SetTopicAttribute changes one mutable attribute.
func (b *Backend) SetTopicAttribute(arn, name, value string) error {
	if !mutableAttributes[name] {
		return InvalidParameter("attribute cannot be modified: " + name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[arn]
	if !ok {
		return topicNotFound(arn)
	}
	t.Attributes[name] = value
	return nil
}

// Subscribe adds a subscription. Subscribing the same protocol and endpoint
// twice returns the existing subscription.
func (b *Backend) Subscribe(arn, protocol, endpoint string) (*Subscription, error) {
	if protocol == "" {
		return nil, InvalidParameter("Protocol is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[arn]
	if !ok {
		return nil, topicNotFound(arn)
	}
	for _, s := range t.Subscriptions {
		if s.Protocol == protocol && s.Endpoint == endpoint {
			cp := s
			return &cp, nil
		}
	}

	sub := Subscription{
		Arn:      arn + ":" + uuid.NewString(),
		TopicArn: arn,
		Protocol: protocol,
		Endpoint: endpoint,
		Owner:    t.Account,
	}
	t.Subscriptions = append(t.Subscriptions, sub)
	return &sub, nil
}

// Subscriptions lists a topic's subscriptions.
func (b *Backend) Subscriptions(arn string) ([]Subscription, error) {
	t, err := b.GetTopic(arn)
	if err != nil {
		return nil, err
	}
	return t.Subscriptions, nil
}

// TagResource merges tags into a topic.
func (b *Backend) TagResource(arn string, tags map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[arn]
	if !ok {
		return topicNotFound(arn)
	}
	for k, v := range tags {
		t.Tags[k] = v
	}
	return nil
}

// UntagResource removes tag keys from a topic.
func (b *Backend) UntagResource(arn string, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[arn]
	if !ok {
		return topicNotFound(arn)
	}
	for _, k := range keys {
		delete(t.Tags, k)
	}
	return nil
}

func (t *Topic) clone() *Topic {
	cp := *t
	cp.Attributes = make(map[string]string, len(t.Attributes))
	for k, v := range t.Attributes {
		cp.Attributes[k] = v
	}
	cp.Tags = make(map[string]string, len(t.Tags))
	for k, v := range t.Tags {
		cp.Tags[k] = v
	}
	cp.Subscriptions = append([]Subscription(nil), t.Subscriptions...)
	return &cp
}
