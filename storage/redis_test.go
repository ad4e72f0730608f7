package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/config-service/interfaces"
)

func TestRedisRepository_FindOne(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.HSet("foo", "b.key", "base-b", "a.key", "base-a")
	mr.HSet("foo-dev", "a.key", "dev-a")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewRedisRepository(client, 0, logger, "redis://"+mr.Addr())

	env, err := repo.FindOne(context.Background(), "foo", "dev,cloud", "", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"redis:foo-cloud", "redis:foo-dev", "redis:foo"}, sourceNames(env))
	assert.Equal(t, 0, env.PropertySources[0].Source.Len())
	assert.Equal(t, []string{"a.key", "b.key"}, env.PropertySources[2].Source.Keys())
	a, _ := env.PropertySources[1].Source.Get("a.key")
	assert.Equal(t, "dev-a", a)
}

func TestRedisRepository_Origins(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.HSet("foo", "k", "v")

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewRedisRepository(client, 0, nil, "")

	env, err := repo.FindOne(context.Background(), "foo", "", "", true)
	require.NoError(t, err)

	assert.Equal(t, []string{"redis:foo"}, sourceNames(env))
	k, _ := env.PropertySources[0].Source.Get("k")
	assert.Equal(t, interfaces.OriginTrackedValue{Value: "v", Origin: "redis:foo"}, k)
}

func TestRedisRepository_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	repo := NewRedisRepository(client, 0, nil, "")
	_, err := repo.FindOne(context.Background(), "foo", "", "", false)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}
