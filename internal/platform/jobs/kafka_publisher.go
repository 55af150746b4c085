package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	domain "github.com/hanko-field/checkout/internal/domain"
)

// MessageWriter is the subset of *kafka.Writer used by the recorder.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAbandonedCartRecorder writes abandoned-cart records to a Kafka topic keyed by session key,
// so records for the same session stay ordered within a partition.
type KafkaAbandonedCartRecorder struct {
	writer  MessageWriter
	marshal func(any) ([]byte, error)
}

// NewKafkaWriter builds the production writer for the given brokers and topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka abandoned cart recorder: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka abandoned cart recorder: topic is required")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaAbandonedCartRecorder wraps writer.
func NewKafkaAbandonedCartRecorder(writer MessageWriter) (*KafkaAbandonedCartRecorder, error) {
	if writer == nil {
		return nil, errors.New("kafka abandoned cart recorder: writer is required")
	}
	return &KafkaAbandonedCartRecorder{writer: writer, marshal: json.Marshal}, nil
}

// RecordAbandonedCart writes a single message and returns once the broker acknowledged it.
func (k *KafkaAbandonedCartRecorder) RecordAbandonedCart(ctx context.Context, cart domain.AbandonedCart) error {
	if k == nil || k.writer == nil {
		return errors.New("kafka abandoned cart recorder: not initialised")
	}
	msg := newAbandonedCartMessage(cart)
	payload, err := k.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal abandoned cart: %w", err)
	}

	attrs := messageAttributes(msg)
	headers := make([]kafka.Header, 0, len(attrs)+1)
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte("abandoned_cart")})
	for _, key := range []string{"sessionKey", "email", "checkoutId", "orderStatus"} {
		if value, ok := attrs[key]; ok {
			headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
		}
	}

	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.SessionKey),
		Value:   payload,
		Headers: headers,
	}); err != nil {
		return fmt.Errorf("write abandoned cart: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaAbandonedCartRecorder) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
