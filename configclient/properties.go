package configclient

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/config-service/api"
	"github.com/ruteri/config-service/interfaces"
)

const (
	// DefaultName is the application name used when none is configured.
	DefaultName = "application"
	// DefaultProfile is the profile used when none is configured.
	DefaultProfile = "default"
	// DefaultURI is the config server address used when none is configured.
	DefaultURI = "http://localhost:8888"
)

// Properties configures how a client locates its configuration.
type Properties struct {
	// Name is the application name to fetch configuration for.
	Name string
	// Profile is a comma-separated list of active profiles.
	Profile string
	// Label is a comma-separated list of labels tried in order. Empty means the
	// server's default label.
	Label string

	// URIs are the config server base URIs, tried in order. Credentials may be
	// embedded as userinfo and take precedence over Username and Password.
	URIs     []string
	Username string
	Password string

	// Token is sent in the X-Config-Token header when set.
	Token string
	// Headers are added to every request.
	Headers map[string]string
	// MediaType is the Accept header.
	MediaType string

	// FailFast makes a failed resolution fatal and enables retries.
	FailFast bool
	// Optional lets resolution degrade to "no configuration" when it fails and
	// FailFast is not set.
	Optional bool
	// SendState sends the last seen state token with every request.
	SendState bool

	// RequestConnectTimeout bounds connection setup for one request.
	RequestConnectTimeout time.Duration
	// RequestReadTimeout bounds one whole request.
	RequestReadTimeout time.Duration

	Retry interfaces.RetryPolicy
}

// DefaultProperties returns the client defaults.
func DefaultProperties() Properties {
	return Properties{
		Name:                  DefaultName,
		Profile:               DefaultProfile,
		URIs:                  []string{DefaultURI},
		MediaType:             api.MediaTypeV2,
		Optional:              true,
		SendState:             true,
		RequestConnectTimeout: 10 * time.Second,
		RequestReadTimeout:    185 * time.Second,
		Retry:                 interfaces.DefaultRetryPolicy(),
	}
}

// Labels returns the labels to try, in order. Without a configured label it is
// a single empty label, meaning the server default.
func (p Properties) Labels() []string {
	labels := interfaces.SplitCSV(p.Label)
	if len(labels) == 0 {
		return []string{""}
	}
	return labels
}

// Endpoints turns URIs into endpoints with their credentials. Userinfo in a URI
// is moved out of it into the endpoint credentials.
func (p Properties) Endpoints() ([]interfaces.Endpoint, error) {
	endpoints := make([]interfaces.Endpoint, 0, len(p.URIs))
	for _, raw := range p.URIs {
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
		}
		endpoint := interfaces.Endpoint{Username: p.Username, Password: p.Password}
		if parsed.User != nil {
			endpoint.Username = parsed.User.Username()
			endpoint.Password, _ = parsed.User.Password()
			parsed.User = nil
		}
		endpoint.URI = strings.TrimSuffix(parsed.String(), "/")
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}

// Validate rejects settings that cannot be honoured together.
func (p Properties) Validate() error {
	if p.Name == "" {
		return errors.New("application name must be set")
	}
	if p.Retry.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}
	if p.Password != "" && p.hasHeader("Authorization") {
		return errors.New("you must set either 'password' or 'authorization', but not both")
	}
	return nil
}

func (p Properties) hasHeader(name string) bool {
	for k := range p.Headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
