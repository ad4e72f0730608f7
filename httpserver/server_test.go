package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/config-service/api"
	"github.com/ruteri/config-service/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHealthAndDrain(t *testing.T) {
	ts := newTestServer(t, new(MockRepository), nil)

	steps := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/livez", http.StatusOK, `{"status":"alive"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
		{"/drain", http.StatusOK, `{"status":"draining"}`},
		{"/drain", http.StatusOK, `{"status":"already draining"}`},
		{"/readyz", http.StatusServiceUnavailable, `{"status":"not ready"}`},
		{"/livez", http.StatusOK, `{"status":"alive"}`},
		{"/undrain", http.StatusOK, `{"status":"ready"}`},
		{"/undrain", http.StatusOK, `{"status":"already ready"}`},
		{"/readyz", http.StatusOK, `{"status":"ready"}`},
	}

	for _, step := range steps {
		resp, err := http.Get(ts.URL + step.path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)

		assert.Equal(t, step.wantStatus, resp.StatusCode, step.path)
		assert.JSONEq(t, step.wantBody, string(body), step.path)
	}
}

func TestAdminRoutesOnlyWhenEnabled(t *testing.T) {
	// without an admin handler /admin/status is an environment request for
	// application "admin" and profile "status"
	repo := new(MockRepository)
	repo.On("FindOne", mock.Anything, "admin", "status", "", false).Return(nil, interfaces.ErrNotFound)
	ts := newTestServer(t, repo, nil)

	resp, err := http.Get(ts.URL + "/admin/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	repo.AssertExpectations(t)

	cfg := &api.HTTPServerConfig{Log: newTestLogger()}
	admin := NewAdminHandler(cfg.Log, map[string][]byte{}, func([]byte) error { return nil })
	srv, err := New(cfg, NewHandler(new(MockRepository), nil, cfg.Log), admin)
	require.NoError(t, err)
	withAdmin := httptest.NewServer(srv.Handler())
	defer withAdmin.Close()

	resp, err = http.Get(withAdmin.URL + "/admin/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"state":"sealed"}`, string(body))
}
