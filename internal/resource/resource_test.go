package resource

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/core/domain"
	"github.com/tjfontaine/cloud-emulator-gateway/internal/services/sns"
)

const (
	testAccount = "000000000000"
	testRegion  = "us-east-1"
)

func newTopicRegistry() (*Registry, *sns.Backend) {
	backend := sns.NewBackend()
	return NewRegistry(NewTopicProvider(backend)), backend
}

func createTopic(t *testing.T, r *Registry, state Properties) *ProgressEvent {
	t.Helper()
	event, err := r.Execute(context.Background(), ActionCreate, &Request{
		TypeName:     TopicType,
		Account:      testAccount,
		Region:       testRegion,
		DesiredState: state,
	})
	if err != nil {
		t.Fatalf("create error = %v", err)
	}
	if event.Status != StatusSuccess {
		t.Fatalf("create status = %s (%s: %s)", event.Status, event.ErrorCode, event.Message)
	}
	return event
}

func TestRegistry_UnknownType(t *testing.T) {
	r, _ := newTopicRegistry()

	_, err := r.Execute(context.Background(), ActionCreate, &Request{TypeName: "AWS::Nope::Thing"})
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeNotFound {
		t.Errorf("expected not found error, got %v", err)
	}
	if got := r.Types(); !reflect.DeepEqual(got, []string{TopicType}) {
		t.Errorf("Types() = %v", got)
	}
}

func TestTopicProvider_Create(t *testing.T) {
	r, backend := newTopicRegistry()

	event := createTopic(t, r, Properties{
		"TopicName":   "orders",
		"DisplayName": "Orders",
		"Subscription": []any{
			map[string]any{"Protocol": "sqs", "Endpoint": "arn:aws:sqs:us-east-1:000000000000:q"},
		},
		"Tags": []any{map[string]any{"Key": "team", "Value": "billing"}},
	})

	arn, _ := event.ResourceModel["TopicArn"].(string)
	if arn != sns.TopicArn(testRegion, testAccount, "orders") {
		t.Fatalf("TopicArn = %q", arn)
	}

	topic, err := backend.GetTopic(arn)
	if err != nil {
		t.Fatal(err)
	}
	if topic.Attributes[sns.AttrDisplayName] != "Orders" {
		t.Errorf("attributes = %v", topic.Attributes)
	}
	if len(topic.Subscriptions) != 1 || topic.Subscriptions[0].Protocol != "sqs" {
		t.Errorf("subscriptions = %+v", topic.Subscriptions)
	}
	if topic.Tags["team"] != "billing" {
		t.Errorf("tags = %v", topic.Tags)
	}
}

func TestTopicProvider_CreateGeneratesName(t *testing.T) {
	r, backend := newTopicRegistry()

	event := createTopic(t, r, Properties{"FifoTopic": true, "ContentBasedDeduplication": "True"})
	name, _ := event.ResourceModel["TopicName"].(string)
	if !strings.HasPrefix(name, "topic-") || !strings.HasSuffix(name, ".fifo") {
		t.Errorf("generated name = %q", name)
	}

	topic, err := backend.GetTopic(event.ResourceModel["TopicArn"].(string))
	if err != nil {
		t.Fatal(err)
	}
	if topic.Attributes[sns.AttrFifoTopic] != "true" || topic.Attributes[sns.AttrContentBasedDeduplication] != "true" {
		t.Errorf("attributes not canonicalized: %v", topic.Attributes)
	}

	plain := createTopic(t, r, Properties{})
	if name, _ := plain.ResourceModel["TopicName"].(string); strings.HasSuffix(name, ".fifo") {
		t.Errorf("standard topic got FIFO name %q", name)
	}
}

func TestTopicProvider_RepeatedCreate(t *testing.T) {
	r, backend := newTopicRegistry()

	first := createTopic(t, r, Properties{"TopicName": "events"})
	second := createTopic(t, r, first.ResourceModel)

	if second.ResourceModel["TopicArn"] != first.ResourceModel["TopicArn"] {
		t.Errorf("repeated create changed the model: %v", second.ResourceModel)
	}
	if n := len(backend.ListTopics(testAccount, testRegion)); n != 1 {
		t.Errorf("topics = %d, want 1", n)
	}
}

func TestTopicProvider_ReadUpdateDelete(t *testing.T) {
	r, backend := newTopicRegistry()
	ctx := context.Background()

	created := createTopic(t, r, Properties{
		"TopicName":   "alerts",
		"DisplayName": "Alerts",
		"Tags":        []any{map[string]any{"Key": "a", "Value": "1"}},
	})
	arn := created.ResourceModel["TopicArn"].(string)

	read, err := r.Execute(ctx, ActionRead, &Request{TypeName: TopicType, Identifier: arn})
	if err != nil || read.Status != StatusSuccess {
		t.Fatalf("read = %+v, %v", read, err)
	}
	if read.ResourceModel["DisplayName"] != "Alerts" || read.ResourceModel["TopicName"] != "alerts" {
		t.Errorf("read model = %v", read.ResourceModel)
	}

	updated, err := r.Execute(ctx, ActionUpdate, &Request{
		TypeName:   TopicType,
		Identifier: arn,
		DesiredState: Properties{
			"DisplayName": "Paging",
			"Tags":        []any{map[string]any{"Key": "b", "Value": "2"}},
		},
	})
	if err != nil || updated.Status != StatusSuccess {
		t.Fatalf("update = %+v, %v", updated, err)
	}
	if updated.ResourceModel["DisplayName"] != "Paging" {
		t.Errorf("updated model = %v", updated.ResourceModel)
	}
	topic, _ := backend.GetTopic(arn)
	if !reflect.DeepEqual(topic.Tags, map[string]string{"b": "2"}) {
		t.Errorf("tags after update = %v", topic.Tags)
	}

	rename, err := r.Execute(ctx, ActionUpdate, &Request{
		TypeName:     TopicType,
		Identifier:   arn,
		DesiredState: Properties{"TopicName": "renamed"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if rename.Status != StatusFailed || rename.ErrorCode != ErrorCodeNotUpdatable {
		t.Errorf("rename = %+v, want NotUpdatable failure", rename)
	}

	deleted, err := r.Execute(ctx, ActionDelete, &Request{
		TypeName:     TopicType,
		DesiredState: Properties{"TopicArn": arn},
	})
	if err != nil || deleted.Status != StatusSuccess || len(deleted.ResourceModel) != 0 {
		t.Fatalf("delete = %+v, %v", deleted, err)
	}

	missing, err := r.Execute(ctx, ActionRead, &Request{TypeName: TopicType, Identifier: arn})
	if err != nil {
		t.Fatal(err)
	}
	if missing.Status != StatusFailed || missing.ErrorCode != ErrorCodeNotFound {
		t.Errorf("read after delete = %+v", missing)
	}
}

func TestTopicProvider_InvalidProperties(t *testing.T) {
	r, _ := newTopicRegistry()

	event, err := r.Execute(context.Background(), ActionCreate, &Request{
		TypeName:     TopicType,
		Account:      testAccount,
		Region:       testRegion,
		DesiredState: Properties{"Tags": "not-a-list"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if event.Status != StatusFailed || event.ErrorCode != ErrorCodeInvalidRequest {
		t.Errorf("event = %+v", event)
	}
}

func TestRegistry_PropagatesCustomContext(t *testing.T) {
	r, _ := newTopicRegistry()
	cc := map[string]any{"attempt": float64(2)}

	event, err := r.Execute(context.Background(), ActionRead, &Request{
		TypeName:      TopicType,
		Identifier:    "",
		CustomContext: cc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(event.CustomContext, cc) {
		t.Errorf("CustomContext = %v", event.CustomContext)
	}
}
