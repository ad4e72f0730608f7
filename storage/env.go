package storage

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/ruteri/config-service/interfaces"
)

// EnvRepository exposes the server's own process environment as one property source.
// Only variables starting with prefix are included, with the prefix removed and the
// name mapped to a property key: CONFIG_SERVER_PORT with prefix CONFIG_ becomes
// server.port.
type EnvRepository struct {
	prefix  string
	order   int
	environ func() []string
}

// NewEnvRepository creates a repository over variables starting with prefix.
func NewEnvRepository(prefix string, order int) *EnvRepository {
	return &EnvRepository{prefix: prefix, order: order, environ: os.Environ}
}

// FindOne returns the same single source for every application.
func (b *EnvRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	env := interfaces.NewEnvironment(application, interfaces.SplitCSV(profile), label)

	vars := b.environ()
	sort.Strings(vars)
	values := interfaces.NewOrderedValues()
	for _, kv := range vars {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, b.prefix) || name == b.prefix {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, b.prefix), "_", "."))
		if includeOrigin {
			values.Set(key, interfaces.OriginTrackedValue{Value: value, Origin: "System Environment Property \"" + name + "\""})
		} else {
			values.Set(key, value)
		}
	}
	env.Add(interfaces.NewPropertySource("systemEnvironment", values))
	return env, nil
}

// Order returns the precedence of this repository.
func (b *EnvRepository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *EnvRepository) Name() string {
	return "env"
}

// LocationURI returns the URI that identifies this repository.
func (b *EnvRepository) LocationURI() string {
	return "env://?prefix=" + b.prefix
}
