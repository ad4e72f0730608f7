package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/config-service/interfaces"
)

// NewVaultClient creates a Vault API client for address. Authentication uses token when
// set, and additionally presents clientCert for TLS certificate auth when non-nil.
func NewVaultClient(address, token string, clientCert *tls.Certificate) (*api.Client, error) {
	config := api.DefaultConfig()
	config.Address = address
	if clientCert != nil {
		config.HttpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{*clientCert}},
			},
			Timeout: 30 * time.Second,
		}
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	return client, nil
}

// VaultKV reads secrets from a Vault key/value mount, version 1 or 2.
type VaultKV struct {
	client    *api.Client
	mountPath string
	version   int
}

// NewVaultKV creates a reader for the KV engine mounted at mountPath.
func NewVaultKV(client *api.Client, mountPath string, version int) *VaultKV {
	if version != 1 {
		version = 2
	}
	return &VaultKV{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		version:   version,
	}
}

// Get returns the data stored under key, or (nil, nil) when the key does not exist.
func (kv *VaultKV) Get(ctx context.Context, key string) (map[string]any, error) {
	key = strings.Trim(key, "/")
	if kv.version == 1 {
		secret, err := kv.client.KVv1(kv.mountPath).Get(ctx, key)
		if errors.Is(err, api.ErrSecretNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		return secret.Data, nil
	}

	secret, err := kv.client.KVv2(kv.mountPath).Get(ctx, key)
	if errors.Is(err, api.ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	return secret.Data, nil
}

// Available checks that Vault is initialized and unsealed.
func (kv *VaultKV) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := kv.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		return false
	}
	return health.Initialized && !health.Sealed
}

// KVReader reads one Vault secret. VaultKV is the production implementation.
type KVReader interface {
	Get(ctx context.Context, key string) (map[string]any, error)
}

// VaultRepository serves configuration stored as Vault secrets.
//
// For application "app" and profiles "p1,p2" the keys read are, highest precedence
// first: app,p2 app,p1 app application,p2 application,p1 application. The shared key
// is omitted when the application is itself named after it, and the "default"
// profile never produces a key of its own.
type VaultRepository struct {
	kv               KVReader
	defaultKey       string
	profileSeparator string
	order            int
	log              *slog.Logger
	locationURI      string
}

// NewVaultRepository creates a repository reading secrets through kv.
func NewVaultRepository(kv KVReader, defaultKey, profileSeparator string, order int, log *slog.Logger, locationURI string) *VaultRepository {
	if defaultKey == "" {
		defaultKey = "application"
	}
	if profileSeparator == "" {
		profileSeparator = ","
	}
	if log == nil {
		log = slog.Default()
	}
	return &VaultRepository{
		kv:               kv,
		defaultKey:       defaultKey,
		profileSeparator: profileSeparator,
		order:            order,
		log:              log,
		locationURI:      locationURI,
	}
}

// FindOne reads every key derived from the application and profiles. Missing keys are
// skipped. The state is a hash of the secrets read, so clients watching it notice
// any change to them.
func (b *VaultRepository) FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*interfaces.Environment, error) {
	start := time.Now()
	profiles := interfaces.SplitCSV(profile)
	env := interfaces.NewEnvironment(application, profiles, label)

	keys := b.findKeys(application, scrubProfiles(profiles))
	var digest []byte
	for i := len(keys) - 1; i >= 0; i-- {
		key := keys[i]
		data, err := b.kv.Get(ctx, key)
		if err != nil {
			b.log.Error("Failed to read from Vault", slog.String("key", key), "err", err)
			return nil, err
		}
		if data == nil {
			continue
		}

		// Data is re-read as a document so that nested secrets flatten the same way files do.
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("invalid data format in Vault response for %s: %w", key, err)
		}
		values, err := ParseDocument(key+".json", raw, false)
		if err != nil {
			return nil, err
		}
		if includeOrigin {
			for _, k := range values.Keys() {
				v, _ := values.Get(k)
				values.Set(k, interfaces.OriginTrackedValue{Value: v, Origin: "vault:" + key})
			}
		}
		env.Add(interfaces.NewPropertySource("vault:"+key, values))
		digest = append(digest, raw...)
	}

	if len(digest) > 0 {
		env.State = interfaces.ComputeID(digest).Short()
	}

	b.log.Debug("Fetched environment from Vault",
		slog.String("application", application),
		slog.Int("keys", len(keys)),
		slog.Int("property_sources", len(env.PropertySources)),
		slog.Duration("duration", time.Since(start)))

	return env, nil
}

func (b *VaultRepository) findKeys(application string, profiles []string) []string {
	var keys []string
	if b.defaultKey != application {
		keys = append(keys, b.defaultKey)
		keys = b.addProfiles(keys, b.defaultKey, profiles)
	}
	for _, app := range interfaces.SplitCSV(application) {
		keys = append(keys, app)
		keys = b.addProfiles(keys, app, profiles)
	}
	return keys
}

func (b *VaultRepository) addProfiles(keys []string, base string, profiles []string) []string {
	for _, p := range profiles {
		keys = append(keys, base+b.profileSeparator+p)
	}
	return keys
}

func scrubProfiles(profiles []string) []string {
	var out []string
	for _, p := range profiles {
		if p != "default" {
			out = append(out, p)
		}
	}
	return out
}

// Order returns the precedence of this repository.
func (b *VaultRepository) Order() int {
	return b.order
}

// Name returns a unique identifier for this repository.
func (b *VaultRepository) Name() string {
	return "vault"
}

// LocationURI returns the URI that identifies this repository.
func (b *VaultRepository) LocationURI() string {
	return b.locationURI
}
