package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aescanero/flowdeploy/pkg/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPublishSubscribe(t *testing.T) {
	client := newTestClient(t)
	topic := "test-" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), getStreamKey(topic)) })

	bus, err := NewStreamsEventBus(client, "flowdeploy-test", "consumer-1", zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	received := make(chan domain.Event, 1)
	require.NoError(t, bus.Subscribe(context.Background(), topic, func(ctx context.Context, event domain.Event) error {
		received <- event
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), topic, domain.Event{
		ID:         "evt-1",
		Type:       domain.EventTypeRunTriggered,
		Deployment: "myflow",
		Pathspec:   "MyFlow/argo-a",
	}))

	select {
	case event := <-received:
		assert.Equal(t, "evt-1", event.ID)
		assert.Equal(t, "MyFlow/argo-a", event.Pathspec)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	require.NoError(t, bus.Close())
	assert.Error(t, bus.Subscribe(context.Background(), topic, func(context.Context, domain.Event) error { return nil }))
}

func TestNewStreamsEventBusValidates(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "c", zap.NewNop())
	assert.Error(t, err)
}
