package encryption

import (
	"context"
	"testing"

	"github.com/ruteri/config-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubRepository returns a fresh copy of env on every call
type stubRepository struct {
	env *interfaces.Environment
	err error
}

func (s *stubRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := s.env.CopyHeader()
	for _, ps := range s.env.PropertySources {
		out.Add(interfaces.NewPropertySource(ps.Name, ps.Source.Clone()))
	}
	return out, nil
}

func TestDecryptingRepository(t *testing.T) {
	locator := new(MockLocator)
	locator.On("Locate", mock.Anything).Return(prefixEncryptor{}, nil)
	kv := &fakeKV{secrets: map[string]map[string]any{"s": {"f": "from-vault"}}}

	delegate := &stubRepository{env: testEnvironment(
		"a", "{cipher}enc:one",
		"b", "{vault}:s#f",
	)}

	repo := NewDecryptingRepository(delegate,
		NewCipherDecryptor(locator, newTestLogger()),
		NewVaultDecryptor(kv, newTestLogger()),
	)

	env, err := repo.FindOne(context.Background(), "app", "dev", "main", false)
	require.NoError(t, err)
	require.Len(t, env.PropertySources, 1)

	v, _ := env.PropertySources[0].Source.Get("a")
	require.Equal(t, "one", v)
	v, _ = env.PropertySources[0].Source.Get("b")
	require.Equal(t, "from-vault", v)
}

func TestDecryptingRepositoryOverrides(t *testing.T) {
	delegate := &stubRepository{env: testEnvironment("a", "1")}
	repo := NewDecryptingRepository(delegate)
	repo.SetOverrides(map[string]string{
		"z.key":     "last",
		"a.key":     "first",
		"escaped":   `\{cipher}literal`,
		"reference": `\${other}`,
	})

	env, err := repo.FindOne(context.Background(), "app", "dev", "main", false)
	require.NoError(t, err)
	require.Len(t, env.PropertySources, 2)

	overrides := env.PropertySources[0]
	require.Equal(t, OverridesSourceName, overrides.Name)
	require.Equal(t, []string{"a.key", "escaped", "reference", "z.key"}, overrides.Source.Keys())

	v, _ := overrides.Source.Get("escaped")
	require.Equal(t, "{cipher}literal", v)
	v, _ = overrides.Source.Get("reference")
	require.Equal(t, "${other}", v)

	env, err = repo.FindOne(context.Background(), "app", "dev", "main", true)
	require.NoError(t, err)
	v, _ = env.PropertySources[0].Source.Get("a.key")
	require.Equal(t, interfaces.OriginTrackedValue{Value: "first", Origin: "Config server overrides"}, v)

	// Origins are added per request, never stored
	env, err = repo.FindOne(context.Background(), "app", "dev", "main", false)
	require.NoError(t, err)
	v, _ = env.PropertySources[0].Source.Get("a.key")
	require.Equal(t, "first", v)
}

func TestDecryptingRepositoryError(t *testing.T) {
	repo := NewDecryptingRepository(&stubRepository{err: interfaces.ErrNotFound})
	_, err := repo.FindOne(context.Background(), "app", "dev", "main", false)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestDecryptTwiceIsNoOp(t *testing.T) {
	locator := new(MockLocator)
	locator.On("Locate", mock.Anything).Return(prefixEncryptor{}, nil)
	kv := &fakeKV{secrets: map[string]map[string]any{
		"db/creds": {"password": "hunter2"},
	}}

	env := testEnvironment(
		"plain", "value",
		"good", "{cipher}enc:s3cr3t",
		"bad", "{cipher}garbage",
		"tracked", interfaces.OriginTrackedValue{Value: "{cipher}enc:tracked", Origin: "o"},
		"db.pass", "{vault}:db/creds#password",
		"broken", "{vault}:no-field",
	)
	decryptors := []interfaces.EnvironmentDecryptor{
		NewCipherDecryptor(locator, newTestLogger()),
		NewVaultDecryptor(kv, newTestLogger()),
	}

	once := Decrypt(context.Background(), env, decryptors...)
	twice := Decrypt(context.Background(), once, decryptors...)

	wantKeys := []string{"plain", "good", "invalid.bad", "tracked", "db.pass", "invalid.broken"}
	require.Len(t, once.PropertySources, 1)
	require.Len(t, twice.PropertySources, 1)
	assert.Equal(t, wantKeys, once.PropertySources[0].Source.Keys())
	assert.Equal(t, wantKeys, twice.PropertySources[0].Source.Keys())
	assert.Equal(t, once.PropertySources[0].Source.Map(), twice.PropertySources[0].Source.Map())

	bad, _ := twice.PropertySources[0].Source.Get("invalid.bad")
	assert.Equal(t, InvalidValue, bad)
	assert.Equal(t, once.Version, twice.Version)
	assert.Equal(t, once.State, twice.State)
	assert.Equal(t, 1, kv.reads["db/creds"])
}
