package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/checkout/internal/domain"
)

func TestPubSubAbandonedCartRecorderPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "abandoned-carts")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	recorder, err := NewPubSubAbandonedCartRecorder(topic)
	if err != nil {
		t.Fatalf("NewPubSubAbandonedCartRecorder: %v", err)
	}

	cart := domain.AbandonedCart{
		SessionID:  "482",
		SessionKey: "t_5f2c9e",
		Email:      " Buyer@Example.com ",
		CartContents: []domain.SessionCartLine{{
			Key:       "line-1",
			ProductID: "91",
			Quantity:  2,
			LineTotal: decimal.RequireFromString("998"),
			LineTax:   decimal.Zero,
		}},
		CartTotal:   "998.00",
		Time:        time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
		OtherFields: map[string]string{"phone": "9876543210"},
		CheckoutID:  "chk_1",
	}

	if err := recorder.RecordAbandonedCart(ctx, cart); err != nil {
		t.Fatalf("RecordAbandonedCart: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload abandonedCartMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SessionKey != "t_5f2c9e" || payload.Email != "buyer@example.com" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if len(payload.Cart) != 1 || payload.Cart[0].LineTotal != "998.00" {
		t.Fatalf("unexpected cart lines %#v", payload.Cart)
	}
	if attr := messages[0].Attributes["sessionKey"]; attr != "t_5f2c9e" {
		t.Fatalf("expected session key attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["orderStatus"]; ok {
		t.Fatalf("empty order status should not be an attribute")
	}
}

func TestNewPubSubAbandonedCartRecorderRequiresTopic(t *testing.T) {
	if _, err := NewPubSubAbandonedCartRecorder(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
