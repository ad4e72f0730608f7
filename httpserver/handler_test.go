package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ruteri/config-service/api"
	"github.com/ruteri/config-service/cryptoutils"
	"github.com/ruteri/config-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	args := m.Called(ctx, application, profile, label, includeOrigin)
	if env := args.Get(0); env != nil {
		return env.(*interfaces.Environment), args.Error(1)
	}
	return nil, args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestKeyStore(t *testing.T) *cryptoutils.KeyStore {
	store := cryptoutils.NewKeyStore("primary")
	primary, err := cryptoutils.NewAESTextEncryptor("primary-secret", "")
	require.NoError(t, err)
	store.Add("primary", primary)

	priv, pub, err := cryptoutils.GenerateKeyPair()
	require.NoError(t, err)
	asym, err := cryptoutils.NewECIESTextEncryptor(pub, priv)
	require.NoError(t, err)
	store.Add("rsa", asym)
	return store
}

func newTestServer(t *testing.T, repo interfaces.EnvironmentRepository, locator interfaces.TextEncryptorLocator) *httptest.Server {
	cfg := &api.HTTPServerConfig{Log: newTestLogger()}
	srv, err := New(cfg, NewHandler(repo, locator, cfg.Log), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func sampleEnvironment(includeOrigin bool) *interfaces.Environment {
	env := interfaces.NewEnvironment("app", []string{"dev"}, "main")
	values := interfaces.NewOrderedValues()
	if includeOrigin {
		values.Set("server.port", interfaces.OriginTrackedValue{Value: 8080, Origin: "app.yml:1:7"})
	} else {
		values.Set("server.port", 8080)
	}
	env.Add(interfaces.NewPropertySource("file:app-dev.yml", values))
	env.Version = "v1"
	return env
}

func TestHandleEnvironment(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		accept        string
		wantLabel     string
		includeOrigin bool
		wantType      string
	}{
		{
			name:     "without label",
			path:     "/app/dev",
			wantType: api.MediaTypeJSON,
		},
		{
			name:      "with label",
			path:      "/app/dev/main",
			wantLabel: "main",
			wantType:  api.MediaTypeJSON,
		},
		{
			name:      "label with slash placeholder",
			path:      "/app/dev/feature(_)x",
			wantLabel: "feature/x",
			wantType:  api.MediaTypeJSON,
		},
		{
			name:          "v2 media type asks for origins",
			path:          "/app/dev",
			accept:        api.MediaTypeV2,
			includeOrigin: true,
			wantType:      api.MediaTypeV2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			repo.On("FindOne", mock.Anything, "app", "dev", tt.wantLabel, tt.includeOrigin).
				Return(sampleEnvironment(tt.includeOrigin), nil)
			ts := newTestServer(t, repo, nil)

			req, err := http.NewRequest(http.MethodGet, ts.URL+tt.path, nil)
			require.NoError(t, err)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, tt.wantType, resp.Header.Get("Content-Type"))

			var env interfaces.Environment
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
			assert.Equal(t, "app", env.Name)
			assert.Equal(t, "v1", env.Version)
			require.Len(t, env.PropertySources, 1)

			port, ok := env.PropertySources[0].Source.Get("server.port")
			require.True(t, ok)
			if tt.includeOrigin {
				assert.Equal(t, map[string]any{"value": json.Number("8080"), "origin": "app.yml:1:7"}, port)
			} else {
				assert.Equal(t, json.Number("8080"), port)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestHandleEnvironment_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not found", interfaces.ErrNotFound, http.StatusNotFound},
		{"repository failure", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			repo.On("FindOne", mock.Anything, "app", "dev", "", false).Return(nil, tt.err)
			ts := newTestServer(t, repo, nil)

			resp, err := http.Get(ts.URL + "/app/dev")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body api.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, "/app/dev", body.Path)
			assert.Equal(t, tt.err.Error(), body.Message)
		})
	}
}

func post(t *testing.T, url, contentType, body string) (int, string) {
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(out)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ts := newTestServer(t, new(MockRepository), newTestKeyStore(t))

	tests := []struct {
		name       string
		input      string
		wantPrefix string
	}{
		{name: "default key", input: "s3cr3t"},
		{name: "key alias", input: "{key:rsa}s3cr3t", wantPrefix: "{key:rsa}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, ciphertext := post(t, ts.URL+"/encrypt", "text/plain", tt.input)
			require.Equal(t, http.StatusOK, status)
			assert.True(t, strings.HasPrefix(ciphertext, tt.wantPrefix))
			assert.NotContains(t, ciphertext, "s3cr3t")

			status, plaintext := post(t, ts.URL+"/decrypt", "text/plain", "{cipher}"+ciphertext)
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, "s3cr3t", plaintext)
		})
	}
}

func TestEncrypt_FormEncodedBody(t *testing.T) {
	ts := newTestServer(t, new(MockRepository), newTestKeyStore(t))

	// curl -d 'a b+c' sends the body url-encoded with a trailing '='
	status, ciphertext := post(t, ts.URL+"/encrypt/app/dev", "application/x-www-form-urlencoded", url.QueryEscape("a b+c")+"=")
	require.Equal(t, http.StatusOK, status)

	status, plaintext := post(t, ts.URL+"/decrypt/app/dev", "text/plain", ciphertext)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a b+c", plaintext)
}

func TestEncryptDecrypt_Errors(t *testing.T) {
	tests := []struct {
		name       string
		locator    interfaces.TextEncryptorLocator
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "no key installed",
			path:       "/encrypt",
			body:       "value",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown alias",
			locator:    newTestKeyStore(t),
			path:       "/encrypt",
			body:       "{key:missing}value",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "empty body",
			locator:    newTestKeyStore(t),
			path:       "/encrypt",
			body:       "  ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "garbage ciphertext",
			locator:    newTestKeyStore(t),
			path:       "/decrypt",
			body:       "not-hex",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, new(MockRepository), tt.locator)
			status, _ := post(t, ts.URL+tt.path, "text/plain", tt.body)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestEncryptStatusAndKey(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		ts := newTestServer(t, new(MockRepository), nil)
		for _, path := range []string{"/encrypt/status", "/key"} {
			resp, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		}
	})

	t.Run("symmetric default key", func(t *testing.T) {
		ts := newTestServer(t, new(MockRepository), newTestKeyStore(t))

		resp, err := http.Get(ts.URL + "/encrypt/status")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"status":"OK"}`, string(body))

		resp, err = http.Get(ts.URL + "/key")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("asymmetric default key", func(t *testing.T) {
		priv, _, err := cryptoutils.GenerateKeyPair()
		require.NoError(t, err)
		enc, err := cryptoutils.NewECIESTextEncryptor(nil, priv)
		require.NoError(t, err)
		store := cryptoutils.NewKeyStore("default")
		store.Add("default", enc)
		ts := newTestServer(t, new(MockRepository), store)

		resp, err := http.Get(ts.URL + "/key")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		// the served key encrypts for the installed private key
		sealed, err := cryptoutils.EncryptWithPublicKey(body, []byte("hello"))
		require.NoError(t, err)
		opened, err := cryptoutils.DecryptWithPrivateKey(priv, sealed)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(opened))
	})
}
