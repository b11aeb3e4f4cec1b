package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storefront-commerce/api/internal/services"
)

func newTestTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubOrderEventPublisher_OneMessagePerSeller(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	event := services.OrderPlacedEvent{
		OrderID:        "ord_1",
		TenantID:       "t1",
		CustomerID:     "cust_1",
		SellerIDs:      []string{"seller_a", "seller_b"},
		Currency:       "GBP",
		Total:          decimal.RequireFromString("112"),
		SellerPayout:   decimal.RequireFromString("81"),
		PlatformFee:    decimal.RequireFromString("9"),
		IdempotencyKey: "idem-1",
		PlacedAt:       "2026-05-02T12:00:00Z",
	}
	if err := publisher.PublishOrderPlaced(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderPlaced: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	sellers := map[string]bool{}
	for _, msg := range messages {
		attrs := msg.Attributes
		if attrs["orderId"] != "ord_1" || attrs["tenantId"] != "t1" || attrs["idempotencyKey"] != "idem-1" {
			t.Fatalf("unexpected attributes %v", attrs)
		}
		sellers[attrs["sellerId"]] = true

		var payload orderPlacedMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		if payload.Type != EventTypeOrderPlaced || payload.Total != "112" || payload.SellerID != attrs["sellerId"] {
			t.Fatalf("unexpected payload %#v", payload)
		}
	}
	if !sellers["seller_a"] || !sellers["seller_b"] {
		t.Fatalf("expected a message per seller, got %v", sellers)
	}
}

func TestPubSubOrderEventPublisher_NoSellerStillPublishes(t *testing.T) {
	srv, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if err := publisher.PublishOrderPlaced(context.Background(), services.OrderPlacedEvent{OrderID: "ord_2", TenantID: "t1"}); err != nil {
		t.Fatalf("PublishOrderPlaced: %v", err)
	}
	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if _, ok := messages[0].Attributes["sellerId"]; ok {
		t.Fatalf("sellerId attribute should be omitted when blank")
	}
}

func TestPubSubOrderEventPublisher_RequiresIDs(t *testing.T) {
	_, topic := newTestTopic(t)
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	if err := publisher.PublishOrderPlaced(context.Background(), services.OrderPlacedEvent{OrderID: "ord_3"}); err == nil {
		t.Fatalf("expected error for missing tenant")
	}
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
