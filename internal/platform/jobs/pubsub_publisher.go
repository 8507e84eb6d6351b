package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/maplecart/api/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{topic: topic}, nil
}

// PublishOrderEvent enqueues an order lifecycle event message on the configured
// topic and returns the server-assigned message ID.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, message services.OrderEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order event publisher: not initialised")
	}

	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	id, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: eventAttributes(message),
	}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

// eventAttributes exposes routing fields as message attributes so
// subscribers can filter without decoding the payload.
func eventAttributes(message services.OrderEventMessage) map[string]string {
	attrs := make(map[string]string, 4)
	for key, value := range map[string]string{
		"eventType":     message.EventType,
		"orderId":       message.OrderID,
		"userId":        message.UserID,
		"transactionId": message.TransactionID,
	} {
		if v := strings.TrimSpace(value); v != "" {
			attrs[key] = v
		}
	}
	return attrs
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)
