//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupKafka(t *testing.T) []string {
	t.Helper()

	ctx := context.Background()

	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	return brokers
}

func TestCreateChannel_RoundTrip(t *testing.T) {
	brokers := setupKafka(t)

	pub, sub, err := CreateChannel(watermill.NopLogger{}, "playground-test", brokers)
	require.NoError(t, err)

	defer func() {
		assert.NoError(t, pub.Close())
		assert.NoError(t, sub.Close())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	const topic = "playground.stream.ticker"

	messages, err := sub.Subscribe(ctx, topic)
	require.NoError(t, err)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// The subscriber starts at the newest offset, so publish until the consumer group has joined.
	for {
		msg := message.NewMessage(watermill.NewUUID(), []byte(`{"price":12.5}`))
		require.NoError(t, pub.Publish(topic, msg))

		select {
		case received := <-messages:
			received.Ack()
			assert.JSONEq(t, `{"price":12.5}`, string(received.Payload))

			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("timed out waiting for kafka message")
		}
	}
}
