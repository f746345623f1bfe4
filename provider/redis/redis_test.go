package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNilClient)
}

func startRedis(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := goredis.NewClient(&goredis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisProvider(t *testing.T) {
	ctx := context.Background()
	rdb := startRedis(t)

	p, err := New(Config{Client: rdb, Prefix: "test:"})
	require.NoError(t, err)
	require.NoError(t, p.Ping(ctx))

	_, hit, err := p.Get(ctx, "entry:pl:0:items:PL-1")
	require.NoError(t, err)
	require.False(t, hit)

	ok, err := p.Set(ctx, "entry:pl:0:items:PL-1", []byte("frame"), 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// the prefix is applied on the server side key
	raw, err := rdb.Get(ctx, "test:entry:pl:0:items:PL-1").Bytes()
	require.NoError(t, err)
	require.Equal(t, "frame", string(raw))

	ttl, err := rdb.TTL(ctx, "test:entry:pl:0:items:PL-1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	b, hit, err := p.Get(ctx, "entry:pl:0:items:PL-1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("frame"), b)

	require.NoError(t, p.Del(ctx, "entry:pl:0:items:PL-1"))
	_, hit, err = p.Get(ctx, "entry:pl:0:items:PL-1")
	require.NoError(t, err)
	require.False(t, hit)

	// not owned: Close leaves the client usable
	require.NoError(t, p.Close(ctx))
	require.NoError(t, rdb.Ping(ctx).Err())
}
