package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"order-engine/internal/events"

	"github.com/segmentio/kafka-go"
)

var _ events.Publisher = (*Publisher)(nil)

type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish keys messages by aggregate id so one aggregate's events land on
// the same partition in order.
func (p *Publisher) Publish(ctx context.Context, routingKey string, data any) error {
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}
	msg := kafka.Message{
		Key:     []byte(messageKey(routingKey, data)),
		Value:   value,
		Headers: []kafka.Header{{Key: "event", Value: []byte(routingKey)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s event: %w", routingKey, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

type keyed interface {
	AggregateID() string
}

func messageKey(routingKey string, data any) string {
	if k, ok := data.(keyed); ok && k.AggregateID() != "" {
		return k.AggregateID()
	}
	return routingKey
}
