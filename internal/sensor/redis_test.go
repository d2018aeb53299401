package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSourceForwardsSamples(t *testing.T) {
	mr, client := newTestRedis(t)
	src := NewRedisSource(client, "run-1", nil)

	ch, err := src.Start(context.Background())
	require.NoError(t, err)
	defer src.Stop()

	mr.Publish(RedisChannel("run-1"), `{"type":"heart_rate"}`)
	mr.Publish(RedisChannel("run-1"), `not json`)
	mr.Publish(RedisChannel("run-1"), `{"type":"location","lat":1.5,"lng":2.5,"speed_mps":2}`)

	select {
	case ev := <-ch:
		require.NotNil(t, ev.Location)
		require.Equal(t, 1.5, ev.Location.Lat)
	case <-time.After(2 * time.Second):
		t.Fatalf("no sample forwarded")
	}
}

func TestRedisSourceStopClosesChannel(t *testing.T) {
	_, client := newTestRedis(t)
	src := NewRedisSource(client, "run-2", nil)

	ch, err := src.Start(context.Background())
	require.NoError(t, err)
	src.Stop()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after Stop")
	}
	src.Stop()
}

func TestRedisSourceUnreachable(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedisSource(client, "run-3", nil).Start(ctx)
	require.Error(t, err)
}

func TestRedisChannel(t *testing.T) {
	require.Equal(t, "sensor:abc:events", RedisChannel("abc"))
}
