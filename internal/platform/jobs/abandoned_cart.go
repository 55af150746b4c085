package jobs

import (
	"strings"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// abandonedCartMessage is the wire payload shared by the Pub/Sub and Kafka sinks.
type abandonedCartMessage struct {
	SessionID   string                  `json:"session_id"`
	SessionKey  string                  `json:"session_key"`
	Email       string                  `json:"email"`
	Cart        []abandonedCartLineWire `json:"cart_contents"`
	CartTotal   string                  `json:"cart_total"`
	Time        time.Time               `json:"time"`
	OtherFields map[string]string       `json:"other_fields,omitempty"`
	CheckoutID  string                  `json:"checkout_id,omitempty"`
	OrderStatus string                  `json:"order_status,omitempty"`
}

type abandonedCartLineWire struct {
	Key         string            `json:"key"`
	ProductID   string            `json:"product_id"`
	VariationID string            `json:"variation_id,omitempty"`
	Quantity    int               `json:"quantity"`
	Variation   map[string]string `json:"variation,omitempty"`
	LineTotal   string            `json:"line_total"`
	LineTax     string            `json:"line_tax"`
}

func newAbandonedCartMessage(cart domain.AbandonedCart) abandonedCartMessage {
	lines := make([]abandonedCartLineWire, 0, len(cart.CartContents))
	for _, line := range cart.CartContents {
		lines = append(lines, abandonedCartLineWire{
			Key:         line.Key,
			ProductID:   line.ProductID,
			VariationID: line.VariationID,
			Quantity:    line.Quantity,
			Variation:   line.Variation,
			LineTotal:   line.LineTotal.StringFixed(2),
			LineTax:     line.LineTax.StringFixed(2),
		})
	}
	recorded := cart.Time
	if recorded.IsZero() {
		recorded = time.Now()
	}
	return abandonedCartMessage{
		SessionID:   cart.SessionID,
		SessionKey:  cart.SessionKey,
		Email:       strings.ToLower(strings.TrimSpace(cart.Email)),
		Cart:        lines,
		CartTotal:   cart.CartTotal,
		Time:        recorded.UTC(),
		OtherFields: cart.OtherFields,
		CheckoutID:  cart.CheckoutID,
		OrderStatus: cart.OrderStatus,
	}
}

func messageAttributes(msg abandonedCartMessage) map[string]string {
	attrs := make(map[string]string)
	setAttr(attrs, "sessionKey", msg.SessionKey)
	setAttr(attrs, "email", msg.Email)
	setAttr(attrs, "checkoutId", msg.CheckoutID)
	setAttr(attrs, "orderStatus", msg.OrderStatus)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
