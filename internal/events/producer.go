package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
	TopicProductChanged     = "product.changed"
)

// Producer publishes domain events to a single topic, keyed by entity id.
// A nil Producer drops events silently so services can run without kafka.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	if len(brokers) == 0 {
		return nil
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}
}

type Envelope struct {
	Type string `json:"type"`
	At   int64  `json:"at"`
	Data any    `json:"data"`
}

func (p *Producer) Publish(ctx context.Context, eventType, key string, data any) error {
	if p == nil {
		return nil
	}

	payload, err := json.Marshal(Envelope{
		Type: eventType,
		At:   time.Now().Unix(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", eventType, err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("events: write %s: %w", eventType, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
