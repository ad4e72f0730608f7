package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/config-service/cryptoutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateAdminKeyPairs generates n admin key pairs for testing
func generateAdminKeyPairs(t *testing.T, n int) (map[string]*ecdsa.PrivateKey, map[string][]byte) {
	adminPrivKeys := make(map[string]*ecdsa.PrivateKey, n)
	adminPubKeyPEMs := make(map[string][]byte, n)

	for i := 0; i < n; i++ {
		adminID := fmt.Sprintf("admin%d", i+1)

		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err, "Failed to generate ECDSA key")
		adminPrivKeys[adminID] = privateKey

		pubKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
		require.NoError(t, err, "Failed to marshal public key")
		adminPubKeyPEMs[adminID] = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubKeyBytes})
	}

	return adminPrivKeys, adminPubKeyPEMs
}

// secretRecorder is an unseal callback remembering what it was given.
type secretRecorder struct {
	mu     sync.Mutex
	secret []byte
	err    error
}

func (s *secretRecorder) unseal(secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.secret = secret
	return nil
}

func (s *secretRecorder) get() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret
}

func createAdminServer(t *testing.T, handler *AdminHandler) *httptest.Server {
	r := chi.NewRouter()
	r.Mount("/admin", handler.AdminRouter())
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

// signedPost sends body to path on ts, signed by adminID.
func signedPost(t *testing.T, ts *httptest.Server, path string, body any, adminID string, key *ecdsa.PrivateKey) (int, string) {
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != nil {
		signature, err := SignAdminRequest(key, path, data)
		require.NoError(t, err)
		req.Header.Set(AdminIDHeader, adminID)
		req.Header.Set(AdminSignatureHeader, signature)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out.String()
}

func TestNewAdminHandler(t *testing.T) {
	_, adminPubKeys := generateAdminKeyPairs(t, 3)

	handler := NewAdminHandler(newTestLogger(), adminPubKeys, (&secretRecorder{}).unseal)
	assert.Equal(t, StateSealed, handler.State())
	assert.Len(t, handler.adminPubKeys, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, handler.WaitForUnseal(ctx), context.DeadlineExceeded)
}

func TestAdminHandler_verifyAdmin(t *testing.T) {
	adminPrivKeys, adminPubKeys := generateAdminKeyPairs(t, 2)
	handler := NewAdminHandler(newTestLogger(), adminPubKeys, (&secretRecorder{}).unseal)

	body := []byte(`{"threshold":2}`)
	validSig, err := SignAdminRequest(adminPrivKeys["admin1"], "/admin/unseal", body)
	require.NoError(t, err)
	otherPathSig, err := SignAdminRequest(adminPrivKeys["admin1"], "/admin/share", body)
	require.NoError(t, err)

	tests := []struct {
		name      string
		adminID   string
		signature string
		wantOK    bool
	}{
		{"valid signature", "admin1", validSig, true},
		{"missing headers", "", "", false},
		{"unknown admin", "admin9", validSig, false},
		{"signature of another admin", "admin2", validSig, false},
		{"signature over another path", "admin1", otherPathSig, false},
		{"malformed signature", "admin1", "%%%", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/unseal", bytes.NewReader(body))
			if tt.adminID != "" {
				req.Header.Set(AdminIDHeader, tt.adminID)
			}
			if tt.signature != "" {
				req.Header.Set(AdminSignatureHeader, tt.signature)
			}

			adminID, ok := handler.verifyAdmin(req)
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.adminID, adminID)
				// the body is still readable by the handler
				var params map[string]int
				require.NoError(t, json.NewDecoder(req.Body).Decode(&params))
				assert.Equal(t, 2, params["threshold"])
			}
		})
	}
}

func TestAdminHandler_StartUnsealValidation(t *testing.T) {
	adminPrivKeys, adminPubKeys := generateAdminKeyPairs(t, 3)

	tests := []struct {
		name       string
		threshold  int
		sign       bool
		wantStatus int
	}{
		{"unsigned", 2, false, http.StatusUnauthorized},
		{"threshold too small", 1, true, http.StatusBadRequest},
		{"threshold above admin count", 4, true, http.StatusBadRequest},
		{"valid", 2, true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewAdminHandler(newTestLogger(), adminPubKeys, (&secretRecorder{}).unseal)
			ts := createAdminServer(t, handler)

			var key *ecdsa.PrivateKey
			if tt.sign {
				key = adminPrivKeys["admin1"]
			}
			status, _ := signedPost(t, ts, "/admin/unseal", map[string]int{"threshold": tt.threshold}, "admin1", key)
			assert.Equal(t, tt.wantStatus, status)

			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, StateUnsealing, handler.State())
				status, _ = signedPost(t, ts, "/admin/unseal", map[string]int{"threshold": tt.threshold}, "admin1", key)
				assert.Equal(t, http.StatusBadRequest, status, "second unseal must be rejected")
			} else {
				assert.Equal(t, StateSealed, handler.State())
			}
		})
	}
}

func TestAdminHandler_UnsealFlow(t *testing.T) {
	adminPrivKeys, adminPubKeys := generateAdminKeyPairs(t, 3)
	secret := []byte("a passphrase held by nobody alone")
	shares, err := cryptoutils.SplitKey(secret, 3, 2)
	require.NoError(t, err)

	recorder := &secretRecorder{}
	handler := NewAdminHandler(newTestLogger(), adminPubKeys, recorder.unseal)
	ts := createAdminServer(t, handler)

	// shares are rejected before unsealing starts
	status, _ := signedPost(t, ts, "/admin/share", map[string]string{"share": shares[0]}, "admin1", adminPrivKeys["admin1"])
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = signedPost(t, ts, "/admin/unseal", map[string]int{"threshold": 2}, "admin1", adminPrivKeys["admin1"])
	require.Equal(t, http.StatusOK, status)

	status, body := signedPost(t, ts, "/admin/share", map[string]string{"share": shares[0]}, "admin1", adminPrivKeys["admin1"])
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "waiting for more shares")

	status, _ = signedPost(t, ts, "/admin/share", map[string]string{"share": shares[0]}, "admin1", adminPrivKeys["admin1"])
	assert.Equal(t, http.StatusBadRequest, status, "duplicate share")

	status, _ = signedPost(t, ts, "/admin/share", map[string]string{"share": "zz"}, "admin2", adminPrivKeys["admin2"])
	assert.Equal(t, http.StatusBadRequest, status, "non-hex share")

	resp, err := http.Get(ts.URL + "/admin/status")
	require.NoError(t, err)
	var progress map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&progress))
	resp.Body.Close()
	assert.Equal(t, map[string]any{"state": "unsealing", "threshold": float64(2), "submitted": float64(1)}, progress)

	status, body = signedPost(t, ts, "/admin/share", map[string]string{"share": shares[2]}, "admin3", adminPrivKeys["admin3"])
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "Key installed")

	assert.Equal(t, StateUnsealed, handler.State())
	assert.Equal(t, secret, recorder.get())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, handler.WaitForUnseal(ctx))
}

func TestAdminHandler_FailedReconstructionDiscardsShares(t *testing.T) {
	adminPrivKeys, adminPubKeys := generateAdminKeyPairs(t, 2)
	shares, err := cryptoutils.SplitKey([]byte("secret"), 2, 2)
	require.NoError(t, err)

	recorder := &secretRecorder{err: errors.New("wrong key")}
	handler := NewAdminHandler(newTestLogger(), adminPubKeys, recorder.unseal)
	ts := createAdminServer(t, handler)

	status, _ := signedPost(t, ts, "/admin/unseal", map[string]int{"threshold": 2}, "admin1", adminPrivKeys["admin1"])
	require.Equal(t, http.StatusOK, status)
	status, _ = signedPost(t, ts, "/admin/share", map[string]string{"share": shares[0]}, "admin1", adminPrivKeys["admin1"])
	require.Equal(t, http.StatusOK, status)

	status, body := signedPost(t, ts, "/admin/share", map[string]string{"share": shares[1]}, "admin2", adminPrivKeys["admin2"])
	assert.Equal(t, http.StatusBadRequest, status)
	assert.True(t, strings.Contains(body, "shares discarded"))
	assert.Equal(t, StateUnsealing, handler.State())

	// admins can submit again after a failure
	recorder.mu.Lock()
	recorder.err = nil
	recorder.mu.Unlock()
	status, _ = signedPost(t, ts, "/admin/share", map[string]string{"share": shares[0]}, "admin1", adminPrivKeys["admin1"])
	require.Equal(t, http.StatusOK, status)
	status, _ = signedPost(t, ts, "/admin/share", map[string]string{"share": shares[1]}, "admin2", adminPrivKeys["admin2"])
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, StateUnsealed, handler.State())
}

func TestAdminKeyHelpers(t *testing.T) {
	privPEM, pubPEM, err := GenerateAdminKeyPair()
	require.NoError(t, err)

	priv, err := ParsePrivateKey([]byte(privPEM))
	require.NoError(t, err)

	keysJSON := fmt.Sprintf(`{"admins":[{"id":"ops","pubkey":%q}]}`, pubPEM)
	keys, err := LoadAdminKeys(strings.NewReader(keysJSON))
	require.NoError(t, err)
	require.Contains(t, keys, "ops")

	handler := NewAdminHandler(newTestLogger(), keys, (&secretRecorder{}).unseal)
	body := []byte(`{}`)
	sig, err := SignAdminRequest(priv, "/admin/unseal", body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/unseal", bytes.NewReader(body))
	req.Header.Set(AdminIDHeader, "ops")
	req.Header.Set(AdminSignatureHeader, sig)
	_, ok := handler.verifyAdmin(req)
	assert.True(t, ok)

	assert.Len(t, ComputeFingerprint([]byte(pubPEM)), 64)

	_, err = LoadAdminKeys(strings.NewReader(`{"admins":[{"id":"bad","pubkey":"nope"}]}`))
	assert.Error(t, err)
	_, err = ParsePrivateKey([]byte("nope"))
	assert.Error(t, err)
}
