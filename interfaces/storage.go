package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ContentID is a 32-byte SHA-256 hash of repository content.
// Repositories use it to derive version and state tokens.
type ContentID [32]byte

// ComputeID calculates content ID from data.
func ComputeID(data []byte) ContentID {
	return ContentID(sha256.Sum256(data))
}

// String returns hex representation.
func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 12 hex characters, enough to tell revisions apart in logs and headers.
func (id ContentID) Short() string {
	return id.String()[:12]
}

// RepositoryLocation represents the URI of an environment repository backend.
type RepositoryLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// SupportedSchemes lists the URI schemes a repository location may use.
var SupportedSchemes = []string{"file", "github", "s3", "ipfs", "vault", "redis", "postgres", "postgresql", "sqlite", "env"}

// NewRepositoryLocation parses and validates a repository URI.
func NewRepositoryLocation(uri string) (RepositoryLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return RepositoryLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	supported := false
	for _, s := range SupportedSchemes {
		if parsed.Scheme == s {
			supported = true
			break
		}
	}
	if !supported {
		return RepositoryLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return RepositoryLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc RepositoryLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc RepositoryLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc RepositoryLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// GetParamInt returns an integer query parameter, or def when absent or malformed.
func (loc RepositoryLocation) GetParamInt(name string, def int) int {
	value := loc.Query.Get(name)
	if value == "" {
		return def
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return n
}

// Redacted returns the URI with any password masked, for logging.
func (loc RepositoryLocation) Redacted() string {
	parsed, err := url.Parse(loc.Raw)
	if err != nil {
		return loc.Scheme + "://" + loc.Host
	}
	out := parsed.Redacted()
	if parsed.Query().Has("token") {
		out = strings.Split(out, "?")[0]
	}
	return out
}

var (
	// ErrNotFound is returned when a repository has nothing for the requested application or label.
	ErrNotFound = errors.New("environment not found")

	// ErrBackendUnavailable is returned when a repository backend or config server is not reachable.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInvalidLocationURI is returned when a repository or server location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid location URI")

	// ErrMalformedMarker is returned when an encrypted value does not follow its marker syntax.
	ErrMalformedMarker = errors.New("malformed encrypted value")

	// ErrNoEncryptor is returned when no text encryptor is available for the requested key.
	ErrNoEncryptor = errors.New("no encryptor available")

	// ErrDiscovery is returned when config server instances cannot be discovered.
	ErrDiscovery = errors.New("config server discovery failed")
)

// EnvironmentRepository resolves an Environment for an application, a comma-separated
// profile list and an optional label.
type EnvironmentRepository interface {
	FindOne(ctx context.Context, application, profile, label string, includeOrigin bool) (*Environment, error)
}

// Ordered is implemented by repositories that carry an explicit precedence.
// Lower values win.
type Ordered interface {
	Order() int
}

// LowestPrecedence is the order given to repositories that do not declare one.
const LowestPrecedence = int(^uint32(0) >> 1)

// EnvironmentDecryptor rewrites encrypted values in an Environment.
// Failures on individual values are recorded in the returned Environment, never returned.
type EnvironmentDecryptor interface {
	Decrypt(ctx context.Context, env *Environment) *Environment
}

// TextEncryptor encrypts and decrypts single property values.
type TextEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// TextEncryptorLocator picks a TextEncryptor from hints such as the key alias.
type TextEncryptorLocator interface {
	Locate(hints map[string]string) (TextEncryptor, error)
}
