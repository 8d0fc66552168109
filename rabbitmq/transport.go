// Package rabbitmq publishes outbox events to a topic exchange with
// publisher confirms. Routing key is the event type; the message id is the
// event id, stable across redeliveries so consumers can deduplicate.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/baechuer/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "outbox.events"

	// Wait window for Return / Confirm after a publish.
	confirmWait = 3 * time.Second
)

type Transport struct {
	url      string
	exchange string

	// One channel, one in-flight publish: confirms and returns arrive on
	// per-channel queues, so serializing keeps them attributable.
	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewTransport(url, exchange string) (*Transport, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	t := &Transport{url: url, exchange: exchange}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Transport) connect() error {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("exchange declare %s: %w", t.exchange, err)
	}

	// Publisher confirms + mandatory returns
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	t.conn = conn
	t.ch = ch
	t.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	t.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch != nil {
		_ = t.ch.Close()
		t.ch = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	return nil
}

// Publish sends one event and waits for the broker's confirm. A Return
// (NO_ROUTE) or a nack is a failure; the outbox retries via lock expiry.
func (t *Transport) Publish(ctx context.Context, event outbox.Event) error {
	if event.EventType == "" {
		return errors.New("missing event type")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ch == nil {
		return errors.New("transport channel not ready")
	}

	// A returned publish still gets an ack confirm, and a confirm can land
	// after the wait window. Either leaves a stale outcome buffered that
	// would be read as this publish's answer.
	t.drainStale()

	err := t.ch.PublishWithContext(
		ctx,
		t.exchange,
		string(event.EventType),
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    event.ID.String(),
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         event.Payload,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}

	return t.awaitOutcome(ctx)
}

// drainStale discards buffered confirms and returns left behind by earlier
// publishes. Caller holds mu.
func (t *Transport) drainStale() {
	for {
		select {
		case <-t.confirmCh:
		case <-t.returnCh:
		default:
			return
		}
	}
}

func (t *Transport) awaitOutcome(ctx context.Context) error {
	select {
	case ret := <-t.returnCh:
		return fmt.Errorf("publish returned: code=%d text=%s rk=%s", ret.ReplyCode, ret.ReplyText, ret.RoutingKey)
	case conf := <-t.confirmCh:
		if !conf.Ack {
			return fmt.Errorf("publish nacked: delivery_tag=%d", conf.DeliveryTag)
		}
		return nil
	case <-time.After(confirmWait):
		return errors.New("publish confirm timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}
