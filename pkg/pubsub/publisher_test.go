package pubsub

import (
	"context"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/events"
)

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return "msg-1", r.err }

type fakeTopic struct {
	msgs    []*pubsub.Message
	err     error
	stopped bool
}

func (f *fakeTopic) Publish(_ context.Context, msg *pubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return fakeResult{err: f.err}
}

func (f *fakeTopic) Stop() { f.stopped = true }

func TestEventPublisherSendsEnvelope(t *testing.T) {
	topic := &fakeTopic{}
	pub := &EventPublisher{pub: topic, timeout: time.Second}
	event := events.New(enums.PaymentEventConfirmed, events.SessionPayload{OrderID: "ord-1", ProviderOrderCode: 9}, time.Now())

	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(topic.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(topic.msgs))
	}
	msg := topic.msgs[0]
	if msg.OrderingKey != "ord-1" || msg.Attributes["event_type"] != "payment.confirmed" {
		t.Fatalf("unexpected message %+v", msg)
	}
	env, payload, err := events.Decode(msg.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EventID != event.ID || payload.ProviderOrderCode != 9 {
		t.Fatalf("unexpected envelope %+v %+v", env, payload)
	}

	if err := pub.Close(); err != nil || !topic.stopped {
		t.Fatalf("close must stop the topic publisher")
	}
}

func TestEventPublisherReturnsPublishError(t *testing.T) {
	topic := &fakeTopic{err: errors.New("unavailable")}
	pub := &EventPublisher{pub: topic, timeout: time.Second}
	event := events.New(enums.PaymentEventFailed, events.SessionPayload{OrderID: "ord-1"}, time.Now())
	if err := pub.Publish(context.Background(), event); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"proj", "payments", "projects/proj/topics/payments"},
		{"proj", "projects/other/topics/payments", "projects/other/topics/payments"},
		{"", "payments", ""},
		{"proj", "  ", ""},
	}
	for _, tc := range cases {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}
