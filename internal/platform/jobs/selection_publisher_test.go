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

	"github.com/hanko-field/product-options/internal/domain"
)

func TestPubSubSelectionPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "selection-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubSelectionPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubSelectionPublisher: %v", err)
	}

	event := domain.SelectionFrozenEvent{
		ID:         "evt_1",
		OrderID:    "ord_1",
		LineItemID: "line_1",
		ProductID:  "prod_1",
		MetaKey:    "extra_options",
		Summary:    "Gift Wrap x 2, Insurance x 1",
		Total:      3,
		OccurredAt: time.Date(2026, 5, 6, 9, 0, 0, 0, time.FixedZone("JST", 9*3600)),
	}
	if _, err := publisher.PublishSelectionFrozen(ctx, event); err != nil {
		t.Fatalf("PublishSelectionFrozen: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload SelectionFrozenMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Summary != event.Summary || payload.Total != 3 || payload.LineItemID != "line_1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %s", payload.OccurredAt)
	}
	if attr := messages[0].Attributes["eventType"]; attr != SelectionFrozenType {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["userId"]; ok {
		t.Fatalf("user attribute should not be present")
	}
}

func TestNewPubSubSelectionPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubSelectionPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
