package httpserver

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/config-service/cryptoutils"
)

const (
	// AdminIDHeader identifies the operator sending an admin request.
	AdminIDHeader = "X-Admin-ID"
	// AdminSignatureHeader carries the base64 ASN.1 ECDSA signature of
	// sha256(path + body).
	AdminSignatureHeader = "X-Admin-Signature"
)

// UnsealState is the state of the encryption key.
type UnsealState int

const (
	// StateSealed means no key is installed and unsealing has not started.
	StateSealed UnsealState = iota

	// StateUnsealing means key shares are being collected.
	StateUnsealing

	// StateUnsealed means the key is installed.
	StateUnsealed
)

func (s UnsealState) String() string {
	switch s {
	case StateSealed:
		return "sealed"
	case StateUnsealing:
		return "unsealing"
	case StateUnsealed:
		return "unsealed"
	default:
		return "unknown"
	}
}

// AdminHandler lets operators install the encryption key by submitting Shamir
// shares of it. Every request must be signed by a whitelisted operator key.
// Once threshold shares are in, the key is reconstructed and handed to the
// unseal callback.
type AdminHandler struct {
	mu           sync.RWMutex
	log          *slog.Logger
	state        UnsealState
	adminPubKeys map[string][]byte // admin ID to public key PEM
	shares       map[string]string // admin ID to hex share
	threshold    int
	unseal       func(secret []byte) error
	completeChan chan struct{}
}

// NewAdminHandler creates a handler accepting requests signed by adminPubKeys.
// unseal receives the reconstructed secret and installs it.
func NewAdminHandler(log *slog.Logger, adminPubKeys map[string][]byte, unseal func(secret []byte) error) *AdminHandler {
	return &AdminHandler{
		log:          log,
		state:        StateSealed,
		adminPubKeys: adminPubKeys,
		shares:       make(map[string]string),
		unseal:       unseal,
		completeChan: make(chan struct{}),
	}
}

// WaitForUnseal blocks until the key is installed or ctx is done.
func (h *AdminHandler) WaitForUnseal(ctx context.Context) error {
	select {
	case <-h.completeChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current unseal state.
func (h *AdminHandler) State() UnsealState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// AdminRouter returns the admin API routes.
func (h *AdminHandler) AdminRouter() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.handleStatus)
	r.Post("/unseal", h.handleStartUnseal)
	r.Post("/share", h.handleSubmitShare)

	return r
}

// handleStatus returns the unseal state and, while unsealing, the progress.
//
// Endpoint: GET /admin/status
func (h *AdminHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	resp := map[string]interface{}{
		"state": h.state.String(),
	}
	if h.state == StateUnsealing {
		resp["threshold"] = h.threshold
		resp["submitted"] = len(h.shares)
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleStartUnseal starts collecting shares.
//
// Endpoint: POST /admin/unseal
// Body: {"threshold": <int>}
func (h *AdminHandler) handleStartUnseal(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.verifyAdmin(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var params struct {
		Threshold int `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if params.Threshold < 2 {
		http.Error(w, "Threshold must be at least 2", http.StatusBadRequest)
		return
	}
	if params.Threshold > len(h.adminPubKeys) {
		http.Error(w, "Threshold exceeds the number of admins", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	if h.state != StateSealed {
		h.mu.Unlock()
		http.Error(w, "Unseal already in progress or complete", http.StatusBadRequest)
		return
	}
	h.threshold = params.Threshold
	h.state = StateUnsealing
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":   "Unseal initiated, admins must submit their shares using POST /admin/share",
		"threshold": params.Threshold,
	})

	h.log.Info("Unseal process initiated", "adminID", adminID, "threshold", params.Threshold)
}

// handleSubmitShare records an admin's share and unseals once enough are in.
// A failed reconstruction discards the collected shares.
//
// Endpoint: POST /admin/share
// Body: {"share": "<hex>"}
func (h *AdminHandler) handleSubmitShare(w http.ResponseWriter, r *http.Request) {
	adminID, ok := h.verifyAdmin(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var submission struct {
		Share string `json:"share"`
	}
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, err := hex.DecodeString(submission.Share); err != nil || submission.Share == "" {
		http.Error(w, "Invalid share encoding", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateUnsealing {
		http.Error(w, "Not in unsealing mode", http.StatusBadRequest)
		return
	}
	if _, dup := h.shares[adminID]; dup {
		http.Error(w, "Share already submitted", http.StatusBadRequest)
		return
	}
	h.shares[adminID] = submission.Share

	if len(h.shares) < h.threshold {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message":   "Share accepted, waiting for more shares",
			"submitted": len(h.shares),
			"threshold": h.threshold,
		})
		h.log.Info("Share accepted", "adminID", adminID)
		return
	}

	if err := h.reconstruct(); err != nil {
		h.shares = make(map[string]string)
		h.log.Error("Key reconstruction failed", "err", err)
		http.Error(w, "Key reconstruction failed, shares discarded: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.state = StateUnsealed
	close(h.completeChan)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message": "Key installed successfully",
	})
	h.log.Info("Encryption key unsealed", "adminID", adminID)
}

func (h *AdminHandler) reconstruct() error {
	shares := make([]string, 0, len(h.shares))
	for _, share := range h.shares {
		shares = append(shares, share)
	}
	secret, err := cryptoutils.CombineKeyShares(shares)
	if err != nil {
		return err
	}
	return h.unseal(secret)
}

// verifyAdmin checks that the request is signed by a whitelisted admin and
// returns the admin ID. The signed message is the URL path followed by the body.
func (h *AdminHandler) verifyAdmin(r *http.Request) (string, bool) {
	adminID := r.Header.Get(AdminIDHeader)
	adminSignatureStr := r.Header.Get(AdminSignatureHeader)
	if adminID == "" || adminSignatureStr == "" {
		return "", false
	}

	pubKeyPEM, exists := h.adminPubKeys[adminID]
	if !exists {
		h.log.Warn("Authentication failed: unknown admin ID", "adminID", adminID)
		return adminID, false
	}

	adminSignature, err := base64.StdEncoding.DecodeString(adminSignatureStr)
	if err != nil {
		h.log.Warn("Authentication failed: invalid signature encoding", "adminID", adminID, "err", err)
		return adminID, false
	}

	ecdsaPubKey, err := parsePublicKey(pubKeyPEM)
	if err != nil {
		h.log.Error("Failed to parse admin public key", "adminID", adminID, "err", err)
		return adminID, false
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			h.log.Error("Failed to read request body", "err", err)
			return adminID, false
		}
		// Restore the body for the handler
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	hash := sha256.Sum256(append([]byte(r.URL.Path), bodyBytes...))
	if !ecdsa.VerifyASN1(ecdsaPubKey, hash[:], adminSignature) {
		h.log.Warn("Authentication failed: invalid signature", "adminID", adminID)
		return adminID, false
	}

	h.log.Debug("Admin authentication successful", "adminID", adminID)
	return adminID, true
}

// SignAdminRequest returns the signature header value for a request to path
// with body.
func SignAdminRequest(privateKey *ecdsa.PrivateKey, path string, body []byte) (string, error) {
	hash := sha256.Sum256(append([]byte(path), body...))
	signature, err := ecdsa.SignASN1(rand.Reader, privateKey, hash[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// LoadAdminKeys loads admin public keys from JSON of the form
// {"admins": [{"id": "...", "pubkey": "<PEM>"}]}.
func LoadAdminKeys(r io.Reader) (map[string][]byte, error) {
	var data struct {
		Admins []struct {
			ID     string `json:"id"`
			PubKey string `json:"pubkey"`
		} `json:"admins"`
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode admin keys JSON: %w", err)
	}

	result := make(map[string][]byte)
	for _, admin := range data.Admins {
		if _, err := parsePublicKey([]byte(admin.PubKey)); err != nil {
			return nil, fmt.Errorf("invalid public key for admin %s: %w", admin.ID, err)
		}
		result[admin.ID] = []byte(admin.PubKey)
	}

	return result, nil
}

// GenerateAdminKeyPair generates a P-256 key pair for an operator and returns
// the private and public keys as PEM.
func GenerateAdminKeyPair() (string, string, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privateKeyBytes})
	publicKeyPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicKeyBytes})
	return string(privateKeyPEM), string(publicKeyPEM), nil
}

// ParsePrivateKey parses an ECDSA private key from PEM.
func ParsePrivateKey(privateKeyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block containing private key")
	}

	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ECDSA private key: %w", err)
	}
	return privateKey, nil
}

// ComputeFingerprint returns the hex SHA-256 of a PEM public key.
func ComputeFingerprint(publicKeyPEM []byte) string {
	h := sha256.Sum256(publicKeyPEM)
	return hex.EncodeToString(h[:])
}

func parsePublicKey(publicKeyPEM []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, errors.New("invalid PEM data")
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecdsaPubKey, ok := pubKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("not an ECDSA public key")
	}
	return ecdsaPubKey, nil
}
