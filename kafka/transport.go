// Package kafka publishes outbox events to a single topic, keyed on the
// event type so events of one kind land on one partition.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/baechuer/outbox"
	"github.com/twmb/franz-go/pkg/kgo"
)

type Transport struct {
	client *kgo.Client
	topic  string
}

func NewTransport(brokers []string, topic string) (*Transport, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka transport: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka transport: topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Transport{client: client, topic: topic}, nil
}

// Publish produces synchronously; a nil return means the cluster has
// acknowledged the record.
func (t *Transport) Publish(ctx context.Context, event outbox.Event) error {
	record := &kgo.Record{
		Topic: t.topic,
		Key:   []byte(event.EventType),
		Value: event.Payload,
	}
	if err := t.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %s: %w", event.EventType, err)
	}
	return nil
}

func (t *Transport) Close() {
	t.client.Close()
}
