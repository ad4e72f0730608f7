package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ruteri/config-service/interfaces"
)

// RedisRepository serves configuration stored as Redis hashes.
// Each of the keys {application} and {application}-{profile} holds one hash of
// property values. Profile keys take precedence over the plain key, and later
// profiles over earlier ones.
type RedisRepository struct {
	client      redis.Cmdable
	order       int
	log         *slog.Logger
	locationURI string
}

// NewRedisRepository creates a repository reading hashes through client.
func NewRedisRepository(client redis.Cmdable, order int, log *slog.Logger, locationURI string) *RedisRepository {
	if log == nil {
		log = slog.Default()
	}
	return &RedisRepository{
		client:      client,
		order:       order,
		log:         log,
		locationURI: locationURI,
	}
}

// FindOne reads one hash per key. Hash fields have no inherent order, so they are
// sorted by name. Every key yields a property source even when its hash is empty.
func (b *RedisRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	start := time.Now()
	profiles := interfaces.SplitCSV(profile)
	env := interfaces.NewEnvironment(application, profiles, label)

	keys := []string{application}
	for _, p := range profiles {
		keys = append(keys, application+"-"+p)
	}

	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		hash, err := b.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: redis HGETALL %s: %v", interfaces.ErrBackendUnavailable, key, err)
		}

		fields := make([]string, 0, len(hash))
		for f := range hash {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		values := interfaces.NewOrderedValues()
		for _, f := range fields {
			if includeOrigin {
				values.Set(f, interfaces.OriginTrackedValue{Value: hash[f], Origin: "redis:" + key})
			} else {
				values.Set(f, hash[f])
			}
		}
		env.Add(interfaces.NewPropertySource("redis:"+key, values))
	}

	b.log.Debug("Fetched environment from Redis",
		slog.String("application", application),
		slog.Int("keys", len(keys)),
		slog.Duration("duration", time.Since(start)))

	return env, nil
}

// Order returns the precedence of this repository.
func (b *RedisRepository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *RedisRepository) Name() string {
	return "redis"
}

// LocationURI returns the URI that identifies this repository.
func (b *RedisRepository) LocationURI() string {
	return b.locationURI
}
