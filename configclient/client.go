package configclient

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/ruteri/config-service/metrics"
)

// RefreshGuard serializes refreshes coming from startup, the watch timer and
// discovery heartbeats.
type RefreshGuard struct {
	sync.Mutex
}

// Client keeps one application's configuration current.
type Client struct {
	props     Properties
	session   *Session
	endpoints *EndpointStore
	locator   *Locator
	guard     *RefreshGuard
	log       *slog.Logger

	listenersMu sync.Mutex
	listeners   []func(*Snapshot)
}

// NewClient creates a client. endpoints may be nil, in which case the endpoints
// are built from props.URIs.
func NewClient(props Properties, endpoints *EndpointStore, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}
	if endpoints == nil {
		eps, err := props.Endpoints()
		if err != nil {
			return nil, err
		}
		endpoints = NewEndpointStore(eps)
	}

	httpClient := &http.Client{
		Timeout: props.RequestReadTimeout,
		Transport: &http.Transport{
			Proxy:       http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{Timeout: props.RequestConnectTimeout}).DialContext,
		},
	}

	session := NewSession()
	return &Client{
		props:     props,
		session:   session,
		endpoints: endpoints,
		locator:   NewLocator(props, endpoints, session, NewFetcher(httpClient, log), log),
		guard:     &RefreshGuard{},
		log:       log,
	}, nil
}

// Load locates the configuration for the first time.
func (c *Client) Load(ctx context.Context) (*Snapshot, error) {
	return c.refresh(ctx, "startup")
}

// Refresh locates the configuration again and notifies the OnRefresh listeners.
func (c *Client) Refresh(ctx context.Context) (*Snapshot, error) {
	return c.refresh(ctx, "manual")
}

func (c *Client) refresh(ctx context.Context, trigger string) (*Snapshot, error) {
	c.guard.Lock()
	defer c.guard.Unlock()

	metrics.Refreshes.WithLabelValues(trigger).Inc()
	snap, err := c.locator.Locate(ctx)
	if err != nil {
		return nil, err
	}
	c.session.setSnapshot(snap)

	c.listenersMu.Lock()
	listeners := append([]func(*Snapshot){}, c.listeners...)
	c.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return snap, nil
}

// OnRefresh registers fn to be called with every new snapshot.
func (c *Client) OnRefresh(fn func(*Snapshot)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Snapshot returns the last located snapshot.
func (c *Client) Snapshot() *Snapshot {
	return c.session.Snapshot()
}

// CurrentState returns the state token of the last located snapshot.
func (c *Client) CurrentState(ctx context.Context) (string, error) {
	return c.Snapshot().State(), nil
}

// ProbeState fetches the environment without applying it and returns its state.
func (c *Client) ProbeState(ctx context.Context) (string, error) {
	env, err := c.locator.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return env.State, nil
}

// Session returns the client's session.
func (c *Client) Session() *Session {
	return c.session
}

// Endpoints returns the store the client fetches from.
func (c *Client) Endpoints() *EndpointStore {
	return c.endpoints
}

// Guard returns the lock held while a refresh is applied.
func (c *Client) Guard() *RefreshGuard {
	return c.guard
}

// NewWatch creates a watch that refreshes this client when the state reported by
// source changes.
func (c *Client) NewWatch(source StateSource, opts WatchOpts) *Watch {
	return NewWatch(c.session, source, func(ctx context.Context) error {
		_, err := c.refresh(ctx, "watch")
		return err
	}, opts, c.log)
}
