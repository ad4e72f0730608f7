package configclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/ruteri/config-service/api"
	"github.com/ruteri/config-service/interfaces"
	"github.com/ruteri/config-service/metrics"
)

// FetchRequest describes one resolution against a list of config servers.
type FetchRequest struct {
	Name      string
	Profile   string
	Labels    []string
	Endpoints []interfaces.Endpoint
	Token     string
	State     string
	SendState bool
	MediaType string
	Headers   map[string]string
}

// Fetcher retrieves environments from config servers.
type Fetcher struct {
	client *http.Client
	log    *slog.Logger
}

// NewFetcher creates a fetcher. The client's timeout bounds each request.
func NewFetcher(client *http.Client, log *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{client: client, log: log}
}

// Fetch tries every label in order and, for each label, every endpoint in order.
// The first environment found is returned.
//
// A 404 moves on to the next endpoint. A connection failure does too, except on
// the last endpoint of a label where it is returned. Other error statuses are
// returned as *ServerError. An empty 200 or any other status moves on to the
// next label. When nothing is found the error is a *NotFoundError.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*interfaces.Environment, error) {
	if len(req.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no config server endpoints", interfaces.ErrBackendUnavailable)
	}
	labels := req.Labels
	if len(labels) == 0 {
		labels = []string{""}
	}

	for _, label := range labels {
		env, err := f.fetchLabel(ctx, req, label)
		if err != nil {
			return nil, err
		}
		if env != nil {
			return env, nil
		}
	}
	return nil, &NotFoundError{Labels: labels}
}

func (f *Fetcher) fetchLabel(ctx context.Context, req FetchRequest, label string) (*interfaces.Environment, error) {
	for i, endpoint := range req.Endpoints {
		target := requestURL(endpoint.URI, req.Name, req.Profile, label)
		f.log.Info("Fetching config from server", "uri", target)

		resp, err := f.do(ctx, req, endpoint, target)
		var env *interfaces.Environment
		var next bool
		if err == nil {
			env, next, err = f.readResponse(resp, endpoint.URI)
		}

		var connErr *connectionError
		if errors.As(err, &connErr) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.FetchAttempts.WithLabelValues("connection_error").Inc()
			f.log.Info("Exception on Url, will be trying the next url if available", "uri", endpoint.URI, "err", connErr.err)
			if i == len(req.Endpoints)-1 {
				return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, connErr.err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if next {
			continue
		}
		return env, nil
	}
	return nil, nil
}

// connectionError is a failure to send a request or to read its response.
// Both move on to the next endpoint.
type connectionError struct {
	err error
}

func (e *connectionError) Error() string { return e.err.Error() }

func (e *connectionError) Unwrap() error { return e.err }

// readResponse returns the environment, or next=true to try the next endpoint,
// or neither to move on to the next label.
func (f *Fetcher) readResponse(resp *http.Response, uri string) (env *interfaces.Environment, next bool, err error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, &connectionError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.FetchAttempts.WithLabelValues("not_found").Inc()
		return nil, true, nil
	case resp.StatusCode >= http.StatusBadRequest:
		metrics.FetchAttempts.WithLabelValues("server_error").Inc()
		serverErr := &ServerError{URI: uri, StatusCode: resp.StatusCode}
		if isJSON(resp.Header.Get("Content-Type")) {
			serverErr.Body = string(body)
		}
		return nil, false, serverErr
	case resp.StatusCode != http.StatusOK || len(strings.TrimSpace(string(body))) == 0:
		metrics.FetchAttempts.WithLabelValues("empty").Inc()
		return nil, false, nil
	}

	env = &interfaces.Environment{}
	if err := json.Unmarshal(body, env); err != nil {
		metrics.FetchAttempts.WithLabelValues("server_error").Inc()
		return nil, false, fmt.Errorf("failed to decode environment from %s: %w", uri, err)
	}
	metrics.FetchAttempts.WithLabelValues("success").Inc()
	return env, false, nil
}

func (f *Fetcher) do(ctx context.Context, req FetchRequest, endpoint interfaces.Endpoint, target string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &connectionError{err: err}
	}

	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = api.MediaTypeV2
	}
	httpReq.Header.Set("Accept", mediaType)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if endpoint.Password != "" {
		httpReq.SetBasicAuth(endpoint.Username, endpoint.Password)
	}
	if req.Token != "" {
		httpReq.Header.Set(api.TokenHeader, req.Token)
	}
	if req.SendState && req.State != "" {
		httpReq.Header.Set(api.StateHeader, req.State)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &connectionError{err: err}
	}
	return resp, nil
}

func requestURL(base, name, profile, label string) string {
	path := "/" + name + "/" + profile
	if label != "" {
		path += "/" + api.DenormalizeLabel(label)
	}
	return strings.TrimSuffix(base, "/") + (&url.URL{Path: path}).EscapedPath()
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
