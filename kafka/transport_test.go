package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTransportValidation(t *testing.T) {
	t.Run("rejects_empty_brokers", func(t *testing.T) {
		_, err := NewTransport(nil, "outbox.events")
		assert.Error(t, err)
	})

	t.Run("rejects_empty_topic", func(t *testing.T) {
		_, err := NewTransport([]string{"localhost:9092"}, "")
		assert.Error(t, err)
	})
}
