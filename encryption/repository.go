package encryption

import (
	"context"
	"sort"
	"strings"

	"github.com/ruteri/config-service/interfaces"
)

const (
	// OverridesSourceName names the property source holding server-side overrides.
	OverridesSourceName = "overrides"

	overridesOrigin = "Config server overrides"
)

// Decrypt applies decryptors to env in order. Each decryptor only acts on its own
// marker, so later decryptors see the values earlier ones left alone.
func Decrypt(ctx context.Context, env *interfaces.Environment, decryptors ...interfaces.EnvironmentDecryptor) *interfaces.Environment {
	for _, d := range decryptors {
		env = d.Decrypt(ctx, env)
	}
	return env
}

// DecryptingRepository wraps a repository, decrypting what it returns and adding
// server-side overrides with the highest precedence.
type DecryptingRepository struct {
	delegate   interfaces.EnvironmentRepository
	decryptors []interfaces.EnvironmentDecryptor
	overrides  *interfaces.OrderedValues
}

// NewDecryptingRepository creates a repository applying decryptors, in order, to
// every Environment returned by delegate.
func NewDecryptingRepository(delegate interfaces.EnvironmentRepository, decryptors ...interfaces.EnvironmentDecryptor) *DecryptingRepository {
	return &DecryptingRepository{
		delegate:   delegate,
		decryptors: decryptors,
		overrides:  interfaces.NewOrderedValues(),
	}
}

// SetOverrides replaces the override values. Keys are kept in sorted order.
// The escapes \{ and \${ let an override carry a literal placeholder.
func (r *DecryptingRepository) SetOverrides(overrides map[string]string) {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := interfaces.NewOrderedValues()
	for _, k := range keys {
		v := strings.ReplaceAll(overrides[k], `\{`, "{")
		v = strings.ReplaceAll(v, `\${`, "${")
		values.Set(k, v)
	}
	r.overrides = values
}

// FindOne resolves, decrypts and prepends the overrides source when there is one.
func (r *DecryptingRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	env, err := r.delegate.FindOne(ctx, application, profile, label, includeOrigin)
	if err != nil {
		return nil, err
	}

	env = Decrypt(ctx, env, r.decryptors...)

	if r.overrides.Len() > 0 {
		values := r.overrides.Clone()
		if includeOrigin {
			for _, k := range values.Keys() {
				v, _ := values.Get(k)
				values.Set(k, interfaces.OriginTrackedValue{Value: v, Origin: overridesOrigin})
			}
		}
		env.AddFirst(interfaces.NewPropertySource(OverridesSourceName, values))
	}
	return env, nil
}

// Name returns the name of the wrapped repository.
func (r *DecryptingRepository) Name() string {
	if n, ok := r.delegate.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "decrypting"
}
