package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/storefront-commerce/api/internal/services"
)

// EventTypeOrderPlaced tags order.placed messages so subscribers can filter on the attribute.
const EventTypeOrderPlaced = "order.placed"

// orderPlacedMessage is the JSON payload published for each seller on a placed order.
type orderPlacedMessage struct {
	Type           string   `json:"type"`
	OrderID        string   `json:"orderId"`
	TenantID       string   `json:"tenantId"`
	CustomerID     string   `json:"customerId,omitempty"`
	SellerID       string   `json:"sellerId,omitempty"`
	SellerIDs      []string `json:"sellerIds,omitempty"`
	Currency       string   `json:"currency"`
	Total          string   `json:"total"`
	SellerPayout   string   `json:"sellerPayout"`
	PlatformFee    string   `json:"platformFee"`
	PromotionID    string   `json:"promotionId,omitempty"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
	PlacedAt       string   `json:"placedAt"`
}

// PubSubOrderEventPublisher publishes order.placed events so seller balances can be refreshed.
// One message is published per seller on the order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderPlaced waits for every message to be acknowledged by the server.
func (p *PubSubOrderEventPublisher) PublishOrderPlaced(ctx context.Context, event services.OrderPlacedEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	if strings.TrimSpace(event.OrderID) == "" || strings.TrimSpace(event.TenantID) == "" {
		return errors.New("pubsub order publisher: order and tenant ids are required")
	}

	sellers := event.SellerIDs
	if len(sellers) == 0 {
		sellers = []string{""}
	}

	results := make([]*pubsub.PublishResult, 0, len(sellers))
	for _, sellerID := range sellers {
		msg := orderPlacedMessage{
			Type:           EventTypeOrderPlaced,
			OrderID:        event.OrderID,
			TenantID:       event.TenantID,
			CustomerID:     event.CustomerID,
			SellerID:       sellerID,
			SellerIDs:      event.SellerIDs,
			Currency:       event.Currency,
			Total:          event.Total.String(),
			SellerPayout:   event.SellerPayout.String(),
			PlatformFee:    event.PlatformFee.String(),
			PromotionID:    event.PromotionID,
			IdempotencyKey: event.IdempotencyKey,
			PlacedAt:       event.PlacedAt,
		}
		data, err := p.marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal order event: %w", err)
		}

		attrs := map[string]string{"eventType": EventTypeOrderPlaced}
		setAttr(attrs, "orderId", event.OrderID)
		setAttr(attrs, "tenantId", event.TenantID)
		setAttr(attrs, "sellerId", sellerID)
		setAttr(attrs, "idempotencyKey", event.IdempotencyKey)

		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: attrs,
		}))
	}

	var errs []error
	for _, result := range results {
		if _, err := result.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish order event: %w", errors.Join(errs...))
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
