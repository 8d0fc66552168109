package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/baechuer/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishValidation(t *testing.T) {
	tr := &Transport{exchange: DefaultExchange}

	t.Run("rejects_missing_event_type", func(t *testing.T) {
		event := outbox.Event{Payload: json.RawMessage(`{}`)}
		err := tr.Publish(context.Background(), event)
		assert.ErrorContains(t, err, "missing event type")
	})

	t.Run("rejects_publish_before_connect", func(t *testing.T) {
		event := outbox.NewEvent("OrderCreated", json.RawMessage(`{}`), "")
		err := tr.Publish(context.Background(), event)
		assert.ErrorContains(t, err, "not ready")
	})
}

func TestPublishOutcome(t *testing.T) {
	ctx := context.Background()

	newTransport := func() (*Transport, chan amqp.Confirmation, chan amqp.Return) {
		confirms := make(chan amqp.Confirmation, 1)
		returns := make(chan amqp.Return, 1)
		tr := &Transport{exchange: DefaultExchange, confirmCh: confirms, returnCh: returns}
		return tr, confirms, returns
	}

	t.Run("stale_outcomes_from_a_returned_publish_are_dropped", func(t *testing.T) {
		tr, confirms, returns := newTransport()

		// An unroutable mandatory publish yields a Return and an ack; once
		// the Return is reported, the ack must not leak into the next
		// publish as a false success.
		returns <- amqp.Return{ReplyCode: 312, ReplyText: "NO_ROUTE", RoutingKey: "OrderCreated"}
		confirms <- amqp.Confirmation{Ack: true, DeliveryTag: 1}

		err := tr.awaitOutcome(ctx)
		require.ErrorContains(t, err, "NO_ROUTE")

		tr.drainStale()
		assert.Empty(t, confirms)
		assert.Empty(t, returns)
	})

	t.Run("late_confirm_from_a_timed_out_publish_is_dropped", func(t *testing.T) {
		tr, confirms, _ := newTransport()

		confirms <- amqp.Confirmation{Ack: true, DeliveryTag: 7}
		tr.drainStale()

		// With the stale ack gone, the next wait sees only its own outcome.
		confirms <- amqp.Confirmation{Ack: false, DeliveryTag: 8}
		err := tr.awaitOutcome(ctx)
		assert.ErrorContains(t, err, "nacked")
	})

	t.Run("nack_is_a_failure", func(t *testing.T) {
		tr, confirms, _ := newTransport()

		confirms <- amqp.Confirmation{Ack: false, DeliveryTag: 1}
		err := tr.awaitOutcome(ctx)
		assert.ErrorContains(t, err, "nacked")
	})

	t.Run("ack_is_a_success", func(t *testing.T) {
		tr, confirms, _ := newTransport()

		confirms <- amqp.Confirmation{Ack: true, DeliveryTag: 1}
		assert.NoError(t, tr.awaitOutcome(ctx))
	})

	t.Run("cancelled_context_stops_the_wait", func(t *testing.T) {
		tr, _, _ := newTransport()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := tr.awaitOutcome(cancelled)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
