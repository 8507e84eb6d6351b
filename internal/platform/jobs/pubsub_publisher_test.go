package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/maplecart/api/internal/services"
)

// newEmulatedTopic spins up an in-process Pub/Sub server and returns a topic
// bound to it, along with the server for message inspection.
func newEmulatedTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(context.Background(), "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	srv, topic := newEmulatedTopic(t)

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	msg := services.OrderEventMessage{
		EventType:     services.OrderEventPaid,
		OrderID:       "ord_test",
		UserID:        "uid-1",
		TotalPrice:    "138.00",
		TransactionID: "txn-1",
		OccurredAt:    time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if _, err := publisher.PublishOrderEvent(context.Background(), msg); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	published := srv.Messages()
	if len(published) != 1 {
		t.Fatalf("message count = %d, want 1", len(published))
	}

	var payload services.OrderEventMessage
	if err := json.Unmarshal(published[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != msg.OrderID || payload.EventType != msg.EventType {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := published[0].Attributes["transactionId"]; attr != "txn-1" {
		t.Fatalf("transactionId attribute = %q, want txn-1", attr)
	}
	if attr := published[0].Attributes["eventType"]; attr != services.OrderEventPaid {
		t.Fatalf("eventType attribute = %q, want %s", attr, services.OrderEventPaid)
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
