package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/product-options/internal/domain"
)

// SelectionFrozenType is the eventType attribute on frozen selection messages.
const SelectionFrozenType = "selection.frozen"

// SelectionFrozenMessage is the JSON payload published for a frozen order line selection.
type SelectionFrozenMessage struct {
	EventID    string    `json:"eventId"`
	OrderID    string    `json:"orderId"`
	LineItemID string    `json:"lineItemId"`
	ProductID  string    `json:"productId"`
	UserID     string    `json:"userId,omitempty"`
	MetaKey    string    `json:"metaKey"`
	Summary    string    `json:"summary"`
	Total      int       `json:"total"`
	OccurredAt time.Time `json:"occurredAt"`
}

// PubSubSelectionPublisher publishes selection events to a Pub/Sub topic.
type PubSubSelectionPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubSelectionPublisher constructs a Pub/Sub backed selection event publisher.
func NewPubSubSelectionPublisher(topic *pubsub.Topic) (*PubSubSelectionPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub selection publisher: topic is required")
	}
	return &PubSubSelectionPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishSelectionFrozen publishes the event and waits for the server-assigned message ID.
func (p *PubSubSelectionPublisher) PublishSelectionFrozen(ctx context.Context, event domain.SelectionFrozenEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub selection publisher: not initialised")
	}

	data, err := p.marshal(SelectionFrozenMessage{
		EventID:    event.ID,
		OrderID:    event.OrderID,
		LineItemID: event.LineItemID,
		ProductID:  event.ProductID,
		UserID:     event.UserID,
		MetaKey:    event.MetaKey,
		Summary:    event.Summary,
		Total:      event.Total,
		OccurredAt: event.OccurredAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal selection event: %w", err)
	}

	attrs := map[string]string{"eventType": SelectionFrozenType}
	setAttr(attrs, "eventId", event.ID)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "productId", event.ProductID)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if orderID := strings.TrimSpace(event.OrderID); orderID != "" && p.topic.EnableMessageOrdering {
		msg.OrderingKey = orderID
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish selection event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
