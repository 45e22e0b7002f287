package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"link-embed/internal/infra/adapter/persistence/redis"
)

// newTestStore connects to TEST_REDIS_URL and skips when it is not set.
func newTestStore(t *testing.T) *redis.Store {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ns := "linkembed-test:" + t.Name() + ":"
	s, client, err := redis.Dial(context.Background(), url, redis.WithNamespace(ns))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, ns+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(got))

	deleted, err := s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_TTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "short", []byte("1"), 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	_, ok, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDial_InvalidURL(t *testing.T) {
	_, _, err := redis.Dial(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestStore_ErrorsAreWrapped(t *testing.T) {
	// Port 1 is never a Redis server; commands fail fast.
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	s := redis.New(client)

	_, _, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis get k")
}
