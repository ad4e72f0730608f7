package encryption

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ruteri/config-service/interfaces"
	"github.com/ruteri/config-service/metrics"
)

const (
	// CipherMarker prefixes values encrypted with a TextEncryptor.
	CipherMarker = "{cipher}"

	// InvalidValue replaces values that could not be decrypted.
	InvalidValue = "<n/a>"

	invalidPrefix = "invalid."
)

// CipherDecryptor decrypts values of the form {cipher}[{key:alias}...]ciphertext
// with a TextEncryptor chosen by a locator.
//
// A value that fails to decrypt is removed and replaced by invalid.<key> = "<n/a>",
// at the same position.
type CipherDecryptor struct {
	locator interfaces.TextEncryptorLocator
	log     *slog.Logger
}

// NewCipherDecryptor creates a decryptor using locator to pick encryptors.
func NewCipherDecryptor(locator interfaces.TextEncryptorLocator, log *slog.Logger) *CipherDecryptor {
	if log == nil {
		log = slog.Default()
	}
	return &CipherDecryptor{locator: locator, log: log}
}

// Decrypt returns a copy of env with every {cipher} value decrypted.
func (d *CipherDecryptor) Decrypt(ctx context.Context, env *interfaces.Environment) *interfaces.Environment {
	out := env.CopyHeader()
	profiles := strings.Join(env.Profiles, ",")

	for _, ps := range env.PropertySources {
		values := ps.Source.Clone()
		for _, key := range ps.Source.Keys() {
			raw, _ := ps.Source.Get(key)
			value, origin, tracked := splitTracked(raw)
			text, ok := value.(string)
			if !ok || !strings.HasPrefix(text, CipherMarker) {
				continue
			}

			plaintext, err := d.decryptValue(ps.Name, profiles, strings.TrimPrefix(text, CipherMarker))
			if err != nil {
				d.logFailure(key, err)
				metrics.DecryptFailures.WithLabelValues("cipher").Inc()
				values.Rename(key, invalidPrefix+key, joinTracked(InvalidValue, origin, tracked))
				continue
			}
			values.Set(key, joinTracked(plaintext, origin, tracked))
		}
		out.Add(interfaces.NewPropertySource(ps.Name, values))
	}
	return out
}

func (d *CipherDecryptor) decryptValue(name, profiles, value string) (string, error) {
	hints := EncryptorKeys(name, profiles, value)
	encryptor, err := d.locator.Locate(hints)
	if err != nil {
		return "", err
	}
	return encryptor.Decrypt(StripPrefix(value))
}

func (d *CipherDecryptor) logFailure(key string, err error) {
	message := "Cannot decrypt key: " + key + " (" + errorClass(err) + ": " + err.Error() + ")"
	if d.log.Enabled(context.Background(), slog.LevelDebug) {
		d.log.Debug(message, "err", err)
	} else {
		d.log.Warn(message)
	}
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrNoEncryptor):
		return "no encryptor"
	case errors.Is(err, interfaces.ErrMalformedMarker):
		return "malformed value"
	default:
		return "decryption failed"
	}
}

// splitTracked separates an OriginTrackedValue into its value and origin.
func splitTracked(v any) (any, string, bool) {
	if t, ok := v.(interfaces.OriginTrackedValue); ok {
		return t.Value, t.Origin, true
	}
	return v, "", false
}

func joinTracked(value any, origin string, tracked bool) any {
	if tracked {
		return interfaces.OriginTrackedValue{Value: value, Origin: origin}
	}
	return value
}
