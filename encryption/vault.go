package encryption

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/config-service/interfaces"
	"github.com/ruteri/config-service/metrics"
	"github.com/ruteri/config-service/storage"
)

// VaultMarker prefixes values that reference a field of a Vault secret:
// {vault}:path/to/secret#field
const VaultMarker = "{vault}"

// VaultDecryptor replaces {vault}:key#field references with the referenced field.
// Each secret is read at most once per Decrypt call. A field missing from an
// existing secret resolves to nil; a malformed reference or a failing read is a
// decryption failure handled like CipherDecryptor's.
type VaultDecryptor struct {
	kv  storage.KVReader
	log *slog.Logger
}

// NewVaultDecryptor creates a decryptor reading secrets through kv.
func NewVaultDecryptor(kv storage.KVReader, log *slog.Logger) *VaultDecryptor {
	if log == nil {
		log = slog.Default()
	}
	return &VaultDecryptor{kv: kv, log: log}
}

// Decrypt returns a copy of env with every {vault} reference resolved.
func (d *VaultDecryptor) Decrypt(ctx context.Context, env *interfaces.Environment) *interfaces.Environment {
	out := env.CopyHeader()
	cache := make(map[string]map[string]any)

	for _, ps := range env.PropertySources {
		values := ps.Source.Clone()
		for _, key := range ps.Source.Keys() {
			raw, _ := ps.Source.Get(key)
			value, origin, tracked := splitTracked(raw)
			text, ok := value.(string)
			if !ok || !strings.HasPrefix(text, VaultMarker) {
				continue
			}

			resolved, err := d.resolve(ctx, cache, strings.TrimPrefix(text, VaultMarker))
			if err != nil {
				d.logFailure(key, err)
				metrics.DecryptFailures.WithLabelValues("vault").Inc()
				values.Rename(key, invalidPrefix+key, joinTracked(InvalidValue, origin, tracked))
				continue
			}
			values.Set(key, joinTracked(resolved, origin, tracked))
		}
		out.Add(interfaces.NewPropertySource(ps.Name, values))
	}
	return out
}

func (d *VaultDecryptor) resolve(ctx context.Context, cache map[string]map[string]any, reference string) (any, error) {
	if !strings.HasPrefix(reference, ":") {
		return nil, fmt.Errorf("%w: expected {vault}:key#field", interfaces.ErrMalformedMarker)
	}
	parts := strings.Split(reference[1:], "#")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: expected {vault}:key#field", interfaces.ErrMalformedMarker)
	}
	secretKey, field := parts[0], parts[1]

	data, ok := cache[secretKey]
	if !ok {
		var err error
		data, err = d.kv.Get(ctx, secretKey)
		if err != nil {
			return nil, err
		}
		if data == nil {
			data = map[string]any{}
		}
		cache[secretKey] = data
	}
	return data[field], nil
}

func (d *VaultDecryptor) logFailure(key string, err error) {
	message := "Cannot resolve vault reference for key: " + key + " (" + errorClass(err) + ": " + err.Error() + ")"
	if d.log.Enabled(context.Background(), slog.LevelDebug) {
		d.log.Debug(message, "err", err)
	} else {
		d.log.Warn(message)
	}
}
