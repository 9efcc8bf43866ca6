package utility

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheService(t *testing.T) {
	_, client := newRedis(t)
	mem := NewMemoryCacheService()
	defer mem.(*memoryCacheService).Stop()

	services := map[string]CacheService{
		"Redis缓存": NewCacheService(client),
		"内存缓存":    mem,
	}

	for name, svc := range services {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := svc.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, svc.Set(ctx, "embed:k", `{"html":"<p>x</p>"}`, time.Hour))
			got, err = svc.Get(ctx, "embed:k")
			require.NoError(t, err)
			assert.Equal(t, `{"html":"<p>x</p>"}`, got)

			require.NoError(t, svc.Delete(ctx, "embed:k"))
			got, err = svc.Get(ctx, "embed:k")
			require.NoError(t, err)
			assert.Empty(t, got)

			assert.NoError(t, svc.Delete(ctx))
		})
	}
}

func TestCacheService_RedisExpiry(t *testing.T) {
	mr, client := newRedis(t)
	svc := NewCacheService(client)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCacheService_MemoryExpiry(t *testing.T) {
	svc := NewMemoryCacheService()
	defer svc.(*memoryCacheService).Stop()
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	got, err := svc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewCacheServiceWithFallback(t *testing.T) {
	_, client := newRedis(t)

	down, err := miniredis.Run()
	require.NoError(t, err)
	downClient := redis.NewClient(&redis.Options{Addr: down.Addr(), MaxRetries: -1})
	defer downClient.Close()
	down.Close()

	testCases := []struct {
		name   string
		client *redis.Client
		want   CacheServiceType
	}{
		{name: "未配置Redis", client: nil, want: CacheTypeMemory},
		{name: "Redis可用", client: client, want: CacheTypeRedis},
		{name: "Redis不可用时降级", client: downClient, want: CacheTypeMemory},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewCacheServiceWithFallback(tc.client)
			assert.Equal(t, tc.want, GetCacheServiceType(svc))
			if m, ok := svc.(*memoryCacheService); ok {
				m.Stop()
			}
		})
	}
}
