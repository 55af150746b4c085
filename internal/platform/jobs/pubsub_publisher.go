package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// PubSubAbandonedCartRecorder publishes abandoned-cart records to a Pub/Sub topic.
type PubSubAbandonedCartRecorder struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubAbandonedCartRecorder constructs a Pub/Sub backed abandoned-cart recorder.
func NewPubSubAbandonedCartRecorder(topic *pubsub.Topic) (*PubSubAbandonedCartRecorder, error) {
	if topic == nil {
		return nil, errors.New("pubsub abandoned cart recorder: topic is required")
	}
	return &PubSubAbandonedCartRecorder{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// RecordAbandonedCart publishes the record and waits for the server acknowledgement.
func (p *PubSubAbandonedCartRecorder) RecordAbandonedCart(ctx context.Context, cart domain.AbandonedCart) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub abandoned cart recorder: not initialised")
	}

	msg := newAbandonedCartMessage(cart)
	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal abandoned cart: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: messageAttributes(msg),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish abandoned cart: %w", err)
	}
	return nil
}
