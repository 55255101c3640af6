package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := NewClientFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	t.Cleanup(func() {
		_ = client.Close()
	})

	return mr, client
}

func TestClient_GetSet(t *testing.T) {
	mr, client := setupMiniredis(t)
	ctx := context.Background()

	_, found, err := client.Get(ctx, "onboardr:missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Set(ctx, "onboardr:data:pools", []byte(`[1,2]`), 2*time.Second))

	data, found, err := client.Get(ctx, "onboardr:data:pools")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `[1,2]`, string(data))

	mr.FastForward(3 * time.Second)

	_, found, err = client.Get(ctx, "onboardr:data:pools")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestClient_SubSecondTTL(t *testing.T) {
	mr, client := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k", []byte(`1`), 50*time.Millisecond))
	assert.Greater(t, mr.TTL("k"), time.Duration(0))

	mr.FastForward(60 * time.Millisecond)
	assert.False(t, mr.Exists("k"))
}

func TestClient_MGet(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "a", []byte(`"x"`), time.Minute))
	require.NoError(t, client.Set(ctx, "c", []byte(`"z"`), time.Minute))

	values, err := client.MGet(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, `"x"`, string(values[0]))
	assert.Nil(t, values[1])
	assert.Equal(t, `"z"`, string(values[2]))
}

func TestClient_KeysAndDel(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()

	for _, k := range []string{"onboardr:a", "onboardr:b", "other:c"} {
		require.NoError(t, client.Set(ctx, k, []byte(`1`), time.Minute))
	}

	keys, err := client.Keys(ctx, "onboardr:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"onboardr:a", "onboardr:b"}, keys)

	require.NoError(t, client.Del(ctx, keys...))

	keys, err = client.Keys(ctx, "onboardr:")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, found, err := client.Get(ctx, "other:c")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestClient_PingAfterServerClose(t *testing.T) {
	mr, client := setupMiniredis(t)
	require.NoError(t, client.Ping(context.Background()))

	mr.Close()
	assert.Error(t, client.Ping(context.Background()))
}
