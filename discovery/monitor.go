package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ruteri/config-service/configclient"
	"github.com/ruteri/config-service/interfaces"
	"github.com/ruteri/config-service/metrics"
)

const (
	// DefaultServiceID is the service id config servers register under.
	DefaultServiceID = "configserver"

	metadataUser       = "user"
	metadataPassword   = "password"
	metadataConfigPath = "configPath"
	defaultUser        = "user"
)

// Options configures a Monitor.
type Options struct {
	ServiceID string
	// FailFast makes discovery failures fatal and retries the lookup.
	FailFast bool
	Retry    interfaces.RetryPolicy
	// Username and Password apply to instances without password metadata.
	Username string
	Password string
}

// Monitor keeps an EndpointStore in line with the discovered config servers.
type Monitor struct {
	lookup    interfaces.InstanceLookup
	store     *configclient.EndpointStore
	guard     sync.Locker
	opts      Options
	heartbeat HeartbeatMonitor
	log       *slog.Logger
}

// NewMonitor creates a monitor publishing to store. guard, when not nil, is held
// while the endpoint list is replaced.
func NewMonitor(lookup interfaces.InstanceLookup, store *configclient.EndpointStore, guard sync.Locker, opts Options, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if opts.ServiceID == "" {
		opts.ServiceID = DefaultServiceID
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = interfaces.DefaultRetryPolicy()
	}
	return &Monitor{
		lookup: lookup,
		store:  store,
		guard:  guard,
		opts:   opts,
		log:    log,
	}
}

// Startup resolves the endpoints for the first time.
func (m *Monitor) Startup(ctx context.Context) error {
	return m.Refresh(ctx)
}

// Heartbeat resolves the endpoints again if value differs from the last
// heartbeat seen.
func (m *Monitor) Heartbeat(ctx context.Context, value string) error {
	if !m.heartbeat.Update(value) {
		return nil
	}
	return m.Refresh(ctx)
}

// Refresh looks up the instances and replaces the endpoint list. On failure the
// previous list stays in effect; the error is returned only with FailFast.
func (m *Monitor) Refresh(ctx context.Context) error {
	endpoints, err := m.resolve(ctx)
	if err != nil {
		if m.opts.FailFast {
			return fmt.Errorf("%w: %v", interfaces.ErrDiscovery, err)
		}
		m.log.Warn("Could not locate configserver via discovery", "serviceId", m.opts.ServiceID, "err", err)
		return nil
	}

	if m.guard != nil {
		m.guard.Lock()
		defer m.guard.Unlock()
	}
	m.store.Set(endpoints)
	metrics.DiscoveredEndpoints.Set(float64(len(endpoints)))
	m.log.Info("Discovered config server endpoints", "serviceId", m.opts.ServiceID, "count", len(endpoints))
	return nil
}

// Watch feeds heartbeats from source into the monitor until ctx is done or the
// source fails.
func (m *Monitor) Watch(ctx context.Context, source HeartbeatSource) error {
	return source.Run(ctx, func(value string) {
		if err := m.Heartbeat(ctx, value); err != nil {
			m.log.Error("Discovery refresh failed", "err", err)
		}
	})
}

func (m *Monitor) resolve(ctx context.Context) ([]interfaces.Endpoint, error) {
	lookup := func(ctx context.Context) ([]interfaces.ServiceInstance, error) {
		instances, err := m.lookup(ctx, m.opts.ServiceID)
		if err != nil {
			return nil, err
		}
		if len(instances) == 0 {
			return nil, fmt.Errorf("no instances found of configserver (%s)", m.opts.ServiceID)
		}
		return instances, nil
	}

	var instances []interfaces.ServiceInstance
	var err error
	if m.opts.FailFast {
		instances, err = configclient.WithRetry(ctx, m.opts.Retry, m.log, lookup)
	} else {
		instances, err = lookup(ctx)
	}
	if err != nil {
		return nil, err
	}

	endpoints := make([]interfaces.Endpoint, 0, len(instances))
	for _, instance := range instances {
		endpoints = append(endpoints, m.endpointFor(instance))
	}
	return endpoints, nil
}

func (m *Monitor) endpointFor(instance interfaces.ServiceInstance) interfaces.Endpoint {
	endpoint := interfaces.Endpoint{
		URI:      instance.URI(),
		Username: m.opts.Username,
		Password: m.opts.Password,
	}

	if password, ok := instance.Metadata[metadataPassword]; ok {
		endpoint.Password = password
		endpoint.Username = defaultUser
		if user, ok := instance.Metadata[metadataUser]; ok {
			endpoint.Username = user
		}
	}
	if path, ok := instance.Metadata[metadataConfigPath]; ok {
		if strings.HasSuffix(endpoint.URI, "/") && strings.HasPrefix(path, "/") {
			endpoint.URI = strings.TrimSuffix(endpoint.URI, "/")
		}
		endpoint.URI += path
	}
	return endpoint
}
