package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"ms-restaurant/internal/logger"
)

// TestLockerAgainstRedisContainer runs the locker against a real Redis
func TestLockerAgainstRedisContainer(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Redis container unavailable: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()

	l := NewLocker(client, 5*time.Second, logger.NewNopLogger())

	token, ok, err := l.TryLock(ctx, "order-it")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "order-it")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx, "order-it", token))

	ran := false
	require.NoError(t, l.WithLock(ctx, "order-it", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}
