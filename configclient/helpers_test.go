package configclient

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ruteri/config-service/api"
)

// newFlakyServer fails the first failures requests with 503
func newFlakyServer(t *testing.T, calls *int, failures int) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if *calls <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(testEnvironmentJSON))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// newStateServer records the state header of the last request
func newStateServer(t *testing.T, state *string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*state = r.Header.Get(api.StateHeader)
		_, _ = w.Write([]byte(testEnvironmentJSON))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}
