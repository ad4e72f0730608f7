package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/config-service/api"
	"github.com/ruteri/config-service/encryption"
	"github.com/ruteri/config-service/interfaces"
	"github.com/ruteri/config-service/metrics"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// Handler serves environments and the encryption endpoints.
type Handler struct {
	repo    interfaces.EnvironmentRepository
	locator interfaces.TextEncryptorLocator
	log     *slog.Logger
}

// NewHandler creates a handler resolving environments from repo. locator may be
// nil, in which case the encryption endpoints report that no key is installed.
func NewHandler(repo interfaces.EnvironmentRepository, locator interfaces.TextEncryptorLocator, log *slog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		locator: locator,
		log:     log,
	}
}

// HandleEnvironment resolves an Environment.
//
// URL format: GET /{name}/{profiles}[/{label}]
//
// A label may encode "/" as "(_)". Requests accepting the v2 media type get
// values with their origins.
func (h *Handler) HandleEnvironment(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.EnvironmentDuration.Observe(time.Since(start).Seconds())
	}()

	name := api.NormalizeLabel(chi.URLParam(r, "name"))
	profiles := api.NormalizeLabel(chi.URLParam(r, "profiles"))
	label := api.NormalizeLabel(chi.URLParam(r, "label"))
	includeOrigin := api.WantsOrigin(r.Header.Get("Accept"))

	if state := r.Header.Get(api.StateHeader); state != "" {
		h.log.Debug("Client state", "name", name, "state", state)
	}

	env, err := h.repo.FindOne(r.Context(), name, profiles, label, includeOrigin)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, interfaces.ErrNotFound) {
			status = http.StatusNotFound
		} else {
			h.log.Error("Failed to resolve environment", "err", err, "name", name, "profiles", profiles, "label", label)
		}
		metrics.EnvironmentRequests.WithLabelValues(http.StatusText(status)).Inc()
		writeError(w, r, status, err)
		return
	}
	metrics.EnvironmentRequests.WithLabelValues(http.StatusText(http.StatusOK)).Inc()

	contentType := api.MediaTypeJSON
	if includeOrigin {
		contentType = api.MediaTypeV2
	}
	w.Header().Set("Content-Type", contentType)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// HandleEncrypt encrypts the request body.
//
// URL format: POST /encrypt[/{name}/{profiles}]
//
// The body may start with {key:alias} hints selecting the key; they are kept
// in front of the returned ciphertext.
func (h *Handler) HandleEncrypt(w http.ResponseWriter, r *http.Request) {
	input, ok := h.readText(w, r)
	if !ok {
		return
	}

	keys := encryption.EncryptorKeys(chi.URLParam(r, "name"), chi.URLParam(r, "profiles"), input)
	encryptor, err := h.locate(keys)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}

	ciphertext, err := encryptor.Encrypt(encryption.StripPrefix(input))
	if err != nil {
		h.log.Error("Encryption failed", "err", err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeText(w, encryption.AddPrefix(keys, ciphertext))
}

// HandleDecrypt decrypts the request body.
//
// URL format: POST /decrypt[/{name}/{profiles}]
func (h *Handler) HandleDecrypt(w http.ResponseWriter, r *http.Request) {
	input, ok := h.readText(w, r)
	if !ok {
		return
	}
	input = strings.TrimPrefix(input, encryption.CipherMarker)

	keys := encryption.EncryptorKeys(chi.URLParam(r, "name"), chi.URLParam(r, "profiles"), input)
	encryptor, err := h.locate(keys)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}

	plaintext, err := encryptor.Decrypt(encryption.StripPrefix(input))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("cannot decrypt: "+err.Error()))
		return
	}
	writeText(w, plaintext)
}

// HandleEncryptStatus reports whether a default key is installed.
//
// URL format: GET /encrypt/status
func (h *Handler) HandleEncryptStatus(w http.ResponseWriter, r *http.Request) {
	if _, err := h.locate(map[string]string{}); err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"OK"}`))
}

// HandlePublicKey returns the PEM public key values can be encrypted to, when
// the default key is asymmetric.
//
// URL format: GET /key
func (h *Handler) HandlePublicKey(w http.ResponseWriter, r *http.Request) {
	encryptor, err := h.locate(map[string]string{})
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return
	}
	withKey, ok := encryptor.(interface{ PublicKeyPEM() []byte })
	if !ok {
		writeError(w, r, http.StatusNotFound, errors.New("the installed key has no public part"))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write(withKey.PublicKeyPEM())
}

func (h *Handler) locate(keys map[string]string) (interfaces.TextEncryptor, error) {
	if h.locator == nil {
		return nil, interfaces.ErrNoEncryptor
	}
	return h.locator.Locate(keys)
}

// readText returns the body as text. Form-encoded bodies, as sent by curl -d,
// are unescaped and lose their trailing "=".
func (h *Handler) readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.log.Error("Failed to read request body", "err", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return "", false
	}
	text := string(body)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if unescaped, err := url.QueryUnescape(text); err == nil {
			text = unescaped
		}
		text = strings.TrimSuffix(text, "=")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		http.Error(w, "Empty request body", http.StatusBadRequest)
		return "", false
	}
	return text, true
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(text))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Path:    r.URL.Path,
		Status:  status,
	})
}
