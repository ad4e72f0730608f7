package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/ruteri/config-service/configclient"
	"github.com/ruteri/config-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects heartbeat values
type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) add(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}

func TestPollingHeartbeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	hb := NewPollingHeartbeat(time.Millisecond, func(ctx context.Context) (string, error) {
		n++
		return string(rune('a' + n%3)), nil
	}, newTestLogger())

	rec := &recorder{}
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx, rec.add) }()

	require.Eventually(t, func() bool { return len(rec.get()) >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRedisHeartbeat(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	hb := NewRedisHeartbeat(client, "configserver.heartbeat")
	done := make(chan error, 1)
	go func() { done <- hb.Run(ctx, rec.add) }()

	// publish until the subscription is live
	require.Eventually(t, func() bool {
		_ = PublishHeartbeat(ctx, client, "configserver.heartbeat", "first")
		return len(rec.get()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "first", rec.get()[0])

	cancel()
	require.NoError(t, <-done)
}

func TestMonitorWatchRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	lookup := &switchableLookup{}
	lookup.set(nil, interfaces.ServiceInstance{Host: "a", Port: 1})
	store := configclient.NewEndpointStore(nil)
	m := NewMonitor(lookup.lookup, store, nil, Options{}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx, NewRedisHeartbeat(client, "hb")) }()

	require.Eventually(t, func() bool {
		_ = PublishHeartbeat(ctx, client, "hb", "v1")
		return len(store.Endpoints()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "http://a:1", store.Endpoints()[0].URI)
}
