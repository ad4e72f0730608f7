package configclient

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ruteri/config-service/interfaces"
)

const (
	// ClientSourceName names the source carrying the server's state and version.
	ClientSourceName = "configClient"
	// StateProperty holds the state token of the located environment.
	StateProperty = "config.client.state"
	// VersionProperty holds the version of the located environment.
	VersionProperty = "config.client.version"

	sourcePrefix = "configserver:"
)

// Snapshot is a located configuration: the environment as the server returned it
// and the property sources built from it, highest precedence first.
type Snapshot struct {
	Environment     *interfaces.Environment
	PropertySources []interfaces.PropertySource
}

// Found reports whether the snapshot holds a located environment.
func (s *Snapshot) Found() bool {
	return s != nil && s.Environment != nil
}

// Get resolves key across the property sources, first match wins.
func (s *Snapshot) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	for _, ps := range s.PropertySources {
		if v, ok := ps.Source.Get(key); ok {
			return interfaces.UnwrapValue(v), true
		}
	}
	return nil, false
}

// Flatten merges the property sources into one map with precedence applied.
func (s *Snapshot) Flatten() map[string]any {
	out := make(map[string]any)
	if s == nil {
		return out
	}
	for i := len(s.PropertySources) - 1; i >= 0; i-- {
		ps := s.PropertySources[i]
		for _, key := range ps.Source.Keys() {
			v, _ := ps.Source.Get(key)
			out[key] = interfaces.UnwrapValue(v)
		}
	}
	return out
}

// State returns the state token recorded in the snapshot.
func (s *Snapshot) State() string {
	v, _ := s.Get(StateProperty)
	state, _ := v.(string)
	return state
}

// Locator resolves a client's configuration from the config servers.
type Locator struct {
	props     Properties
	endpoints *EndpointStore
	session   *Session
	fetcher   *Fetcher
	log       *slog.Logger
}

// NewLocator creates a locator fetching from the endpoints currently in store.
func NewLocator(props Properties, endpoints *EndpointStore, session *Session, fetcher *Fetcher, log *slog.Logger) *Locator {
	if log == nil {
		log = slog.Default()
	}
	return &Locator{
		props:     props,
		endpoints: endpoints,
		session:   session,
		fetcher:   fetcher,
		log:       log,
	}
}

// Locate fetches the environment and builds a snapshot from it. With FailFast
// the whole fetch is retried per the retry policy.
//
// When the configuration cannot be located and neither FailFast is set nor the
// resource is mandatory, an empty snapshot is returned with a nil error.
func (l *Locator) Locate(ctx context.Context) (*Snapshot, error) {
	if !l.props.FailFast {
		return l.locateOnce(ctx)
	}
	return WithRetry(ctx, l.props.Retry, l.log, l.locateOnce)
}

// Fetch retrieves the raw environment once, without failure policy.
func (l *Locator) Fetch(ctx context.Context) (*interfaces.Environment, error) {
	return l.fetcher.Fetch(ctx, FetchRequest{
		Name:      l.props.Name,
		Profile:   l.props.Profile,
		Labels:    l.props.Labels(),
		Endpoints: l.endpoints.Endpoints(),
		Token:     l.props.Token,
		State:     l.session.State(),
		SendState: l.props.SendState,
		MediaType: l.props.MediaType,
		Headers:   l.props.Headers,
	})
}

func (l *Locator) locateOnce(ctx context.Context) (*Snapshot, error) {
	env, err := l.Fetch(ctx)
	if err == nil {
		l.log.Info("Located environment", "name", env.Name, "profiles", env.Profiles, "label", env.Label, "version", env.Version, "state", env.State)
		return NewSnapshot(env), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var body string
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		body = serverErr.Body
	}

	if l.props.FailFast || !l.props.Optional {
		reason := "the fail fast property is set"
		if !l.props.FailFast {
			reason = "the resource is not optional"
		}
		return nil, &FailFastError{Reason: reason, Body: body, Err: err}
	}

	l.log.Warn("Could not locate PropertySource", "err", err)
	return &Snapshot{}, nil
}

// NewSnapshot builds the client property sources for env.
func NewSnapshot(env *interfaces.Environment) *Snapshot {
	snap := &Snapshot{Environment: env}

	if env.State != "" || env.Version != "" {
		values := interfaces.NewOrderedValues()
		if env.State != "" {
			values.Set(StateProperty, env.State)
		}
		if env.Version != "" {
			values.Set(VersionProperty, env.Version)
		}
		snap.PropertySources = append(snap.PropertySources, interfaces.NewPropertySource(ClientSourceName, values))
	}

	for _, ps := range env.PropertySources {
		values := interfaces.NewOrderedValues()
		for _, key := range ps.Source.Keys() {
			v, _ := ps.Source.Get(key)
			values.Set(key, translateOrigin(ps.Name, v))
		}
		snap.PropertySources = append(snap.PropertySources, interfaces.NewPropertySource(sourcePrefix+ps.Name, values))
	}
	return snap
}

// translateOrigin turns a {"value", "origin"} object into an OriginTrackedValue
// whose origin names the config server source.
func translateOrigin(sourceName string, v any) any {
	switch t := v.(type) {
	case interfaces.OriginTrackedValue:
		return interfaces.OriginTrackedValue{Value: t.Value, Origin: "Config Server " + sourceName + ":" + t.Origin}
	case map[string]any:
		if len(t) != 2 {
			return v
		}
		value, hasValue := t["value"]
		origin, hasOrigin := t["origin"].(string)
		if !hasValue || !hasOrigin {
			return v
		}
		return interfaces.OriginTrackedValue{Value: value, Origin: "Config Server " + sourceName + ":" + origin}
	}
	return v
}
