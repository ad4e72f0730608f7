package configclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/config-service/api"
	"github.com/ruteri/config-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const testEnvironmentJSON = `{
	"name": "app",
	"profiles": ["dev"],
	"label": "main",
	"version": "v1",
	"state": "s1",
	"propertySources": [
		{"name": "app-dev.yml", "source": {"b": "2", "a": {"value": "1", "origin": "[app-dev.yml]:1:4"}}},
		{"name": "application.yml", "source": {"a": "0", "c": 3}}
	]
}`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingServer answers every request with status and body and counts hits
func countingServer(t *testing.T, status int, contentType, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := atomic.NewInt32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Inc()
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

// deadEndpoint returns a URI nothing listens on
func deadEndpoint() interfaces.Endpoint {
	srv := httptest.NewServer(http.NotFoundHandler())
	uri := srv.URL
	srv.Close()
	return interfaces.Endpoint{URI: uri}
}

func newTestRequest(endpoints ...interfaces.Endpoint) FetchRequest {
	return FetchRequest{
		Name:      "app",
		Profile:   "dev",
		Labels:    []string{""},
		Endpoints: endpoints,
	}
}

func TestFetchFirstSuccessWins(t *testing.T) {
	first, firstHits := countingServer(t, http.StatusOK, "application/json", testEnvironmentJSON)
	second, secondHits := countingServer(t, http.StatusOK, "application/json", `{"name":"other"}`)

	f := NewFetcher(nil, newTestLogger())
	env, err := f.Fetch(context.Background(), newTestRequest(
		interfaces.Endpoint{URI: first.URL},
		interfaces.Endpoint{URI: second.URL},
	))
	require.NoError(t, err)
	assert.Equal(t, "app", env.Name)
	assert.Equal(t, "s1", env.State)
	require.Len(t, env.PropertySources, 2)
	assert.Equal(t, []string{"b", "a"}, env.PropertySources[0].Source.Keys())

	assert.Equal(t, int32(1), firstHits.Load())
	assert.Equal(t, int32(0), secondHits.Load())
}

// stallingServer starts a 200 response, flushes part of the body and then
// blocks until the client gives up
func stallingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"name":`))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv
}

func TestFetchFailover(t *testing.T) {
	ok, _ := countingServer(t, http.StatusOK, "application/json", testEnvironmentJSON)
	missing, missingHits := countingServer(t, http.StatusNotFound, "", "")
	stalled := stallingServer(t)
	shortTimeout := &http.Client{Timeout: 200 * time.Millisecond}

	tests := []struct {
		name      string
		client    *http.Client
		endpoints []interfaces.Endpoint
		wantErr   error
	}{
		{
			name:      "connection failure then success",
			endpoints: []interfaces.Endpoint{deadEndpoint(), {URI: ok.URL}},
		},
		{
			name:      "not found then success",
			endpoints: []interfaces.Endpoint{{URI: missing.URL}, {URI: ok.URL}},
		},
		{
			name:      "connection failure on last endpoint",
			endpoints: []interfaces.Endpoint{{URI: missing.URL}, deadEndpoint()},
			wantErr:   interfaces.ErrBackendUnavailable,
		},
		{
			name:      "single dead endpoint",
			endpoints: []interfaces.Endpoint{deadEndpoint()},
			wantErr:   interfaces.ErrBackendUnavailable,
		},
		{
			name:      "body read timeout then success",
			client:    shortTimeout,
			endpoints: []interfaces.Endpoint{{URI: stalled.URL}, {URI: ok.URL}},
		},
		{
			name:      "body read timeout on last endpoint",
			client:    shortTimeout,
			endpoints: []interfaces.Endpoint{{URI: missing.URL}, {URI: stalled.URL}},
			wantErr:   interfaces.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFetcher(tt.client, newTestLogger())
			env, err := f.Fetch(context.Background(), newTestRequest(tt.endpoints...))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "app", env.Name)
		})
	}
	assert.Positive(t, missingHits.Load())
}

func TestFetchServerError(t *testing.T) {
	jsonErr, _ := countingServer(t, http.StatusInternalServerError, "application/json", `{"error":"boom"}`)
	textErr, _ := countingServer(t, http.StatusBadGateway, "text/plain", "bad gateway")
	ok, okHits := countingServer(t, http.StatusOK, "application/json", testEnvironmentJSON)

	f := NewFetcher(nil, newTestLogger())

	_, err := f.Fetch(context.Background(), newTestRequest(interfaces.Endpoint{URI: jsonErr.URL}, interfaces.Endpoint{URI: ok.URL}))
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusInternalServerError, serverErr.StatusCode)
	assert.Equal(t, `{"error":"boom"}`, serverErr.Body)
	assert.Equal(t, int32(0), okHits.Load())

	_, err = f.Fetch(context.Background(), newTestRequest(interfaces.Endpoint{URI: textErr.URL}))
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusBadGateway, serverErr.StatusCode)
	assert.Empty(t, serverErr.Body)
}

func TestFetchLabels(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/app/dev/feature(_)x":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(testEnvironmentJSON))
		case "/app/dev/empty":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := NewFetcher(nil, newTestLogger())
	req := newTestRequest(interfaces.Endpoint{URI: srv.URL})
	req.Labels = []string{"missing", "empty", "feature/x", "never"}

	env, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "app", env.Name)
	assert.Equal(t, []string{"/app/dev/missing", "/app/dev/empty", "/app/dev/feature(_)x"}, paths)
}

func TestFetchNotFound(t *testing.T) {
	missing, hits := countingServer(t, http.StatusNotFound, "", "")

	f := NewFetcher(nil, newTestLogger())
	req := newTestRequest(interfaces.Endpoint{URI: missing.URL}, interfaces.Endpoint{URI: missing.URL})
	req.Labels = []string{"a", "b"}

	_, err := f.Fetch(context.Background(), req)
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	var notFound *NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "None of labels [a, b] found", err.Error())
	assert.Equal(t, int32(4), hits.Load())
}

func TestFetchHeaders(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  interfaces.Endpoint
		token     string
		state     string
		sendState bool
		check     func(t *testing.T, r *http.Request)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, api.MediaTypeV2, r.Header.Get("Accept"))
				assert.Empty(t, r.Header.Get("Authorization"))
				assert.Empty(t, r.Header.Get(api.TokenHeader))
				assert.Empty(t, r.Header.Get(api.StateHeader))
			},
		},
		{
			name:     "basic auth and token",
			endpoint: interfaces.Endpoint{Username: "user", Password: "secret"},
			token:    "t0k3n",
			check: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "user", user)
				assert.Equal(t, "secret", pass)
				assert.Equal(t, "t0k3n", r.Header.Get(api.TokenHeader))
			},
		},
		{
			name:      "state sent",
			state:     "s1",
			sendState: true,
			check: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "s1", r.Header.Get(api.StateHeader))
			},
		},
		{
			name:  "state withheld",
			state: "s1",
			check: func(t *testing.T, r *http.Request) {
				assert.Empty(t, r.Header.Get(api.StateHeader))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *http.Request
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Clone(context.Background())
				_, _ = w.Write([]byte(testEnvironmentJSON))
			}))
			defer srv.Close()

			endpoint := tt.endpoint
			endpoint.URI = srv.URL
			req := newTestRequest(endpoint)
			req.Token = tt.token
			req.State = tt.state
			req.SendState = tt.sendState

			_, err := NewFetcher(nil, newTestLogger()).Fetch(context.Background(), req)
			require.NoError(t, err)
			require.NotNil(t, got)
			tt.check(t, got)
		})
	}
}

func TestFetchNoEndpoints(t *testing.T) {
	_, err := NewFetcher(nil, newTestLogger()).Fetch(context.Background(), newTestRequest())
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}
