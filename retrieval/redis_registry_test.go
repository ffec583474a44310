package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestRedisRegistry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	uri, err := redisC.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	reg := NewRedisRegistry(client, time.Minute)

	_, ok, err := reg.Get(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Concurrent registrations: exactly one wins, all agree on the id
	const n = 10
	winners := make([]string, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, won, err := reg.PutIfAbsent(ctx, "chat-1", "idx-"+string(rune('a'+i)))
			assert.NoError(t, err)
			winners[i], created[i] = id, won
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := range winners {
		assert.Equal(t, winners[0], winners[i])
		if created[i] {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	got, ok, err := reg.Get(ctx, "chat-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, winners[0], got)

	ttl, err := client.TTL(ctx, defaultRedisPrefix+"chat-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
