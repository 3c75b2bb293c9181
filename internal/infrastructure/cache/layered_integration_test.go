//go:build integration

// Integration tests for the layered result cache against a real redis.
// They require Docker and are gated behind the "integration" build tag.
package cache_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/LexExtract/internal/infrastructure/cache"
	"github.com/turtacn/LexExtract/internal/infrastructure/database/redis"
	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract/internal/intelligence/common"
)

// startRedis launches a redis 7 container and returns a connected client
// plus its address.
func startRedis(t *testing.T) (*redis.Client, string) {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	addr := fmt.Sprintf("%s:%s", host, port.Port())
	client, err := redis.NewClient(&redis.RedisConfig{Addr: addr}, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, addr
}

func TestLayeredCache_SharedAcrossWorkers(t *testing.T) {
	client, addr := startRedis(t)
	ctx := context.Background()
	remote := redis.NewRedisCache(client, nil, redis.WithPrefix("it:result:"))

	workerA := cache.New(cache.Config{RemoteTTL: time.Minute}, remote)
	workerB := cache.New(cache.Config{RemoteTTL: time.Minute}, remote)

	want := &common.ExtractionResult{
		RequestID: "req-1",
		Entities:  []common.RawEntity{{Text: "Chief Justice Roberts", Type: "PERSON", Confidence: 0.9, Start: 0, End: 21}},
	}
	require.NoError(t, workerA.SetMany(ctx, map[string]interface{}{"abc": want}))

	found, err := workerB.GetMany(ctx, []string{"abc", "missing"})
	require.NoError(t, err)
	require.Contains(t, found, "abc")
	var got common.ExtractionResult
	require.NoError(t, json.Unmarshal(found["abc"], &got))
	assert.Equal(t, *want, got)
	assert.Equal(t, 1, workerB.LocalLen())

	raw := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = raw.Close() })
	ttl, err := raw.TTL(ctx, "it:result:abc").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, workerA.Delete(ctx, "abc"))
	workerB.Flush()
	found, err = workerB.GetMany(ctx, []string{"abc"})
	require.NoError(t, err)
	assert.Empty(t, found)
}
