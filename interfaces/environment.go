package interfaces

import (
	"strings"
	"time"
)

// Environment is the resolved configuration for one (application, profiles, label) request.
// PropertySources are ordered from highest to lowest precedence.
type Environment struct {
	Name            string           `json:"name"`
	Profiles        []string         `json:"profiles"`
	Label           string           `json:"label"`
	PropertySources []PropertySource `json:"propertySources"`
	Version         string           `json:"version"`
	State           string           `json:"state"`
}

// NewEnvironment creates an Environment with no property sources.
func NewEnvironment(name string, profiles []string, label string) *Environment {
	return &Environment{
		Name:            name,
		Profiles:        profiles,
		Label:           label,
		PropertySources: []PropertySource{},
	}
}

// CopyHeader returns a new Environment carrying the same name, profiles, label,
// version and state but no property sources.
func (e *Environment) CopyHeader() *Environment {
	out := NewEnvironment(e.Name, append([]string(nil), e.Profiles...), e.Label)
	out.Version = e.Version
	out.State = e.State
	return out
}

// Add appends a property source with the lowest precedence so far.
func (e *Environment) Add(ps PropertySource) {
	e.PropertySources = append(e.PropertySources, ps)
}

// AddAll appends the given sources in order.
func (e *Environment) AddAll(sources []PropertySource) {
	e.PropertySources = append(e.PropertySources, sources...)
}

// AddFirst inserts a property source with the highest precedence.
func (e *Environment) AddFirst(ps PropertySource) {
	e.PropertySources = append([]PropertySource{ps}, e.PropertySources...)
}

// PropertySource is a named, ordered set of property values.
type PropertySource struct {
	Name   string         `json:"name"`
	Source *OrderedValues `json:"source"`
}

// NewPropertySource creates a property source, allocating an empty value set when values is nil.
func NewPropertySource(name string, values *OrderedValues) PropertySource {
	if values == nil {
		values = NewOrderedValues()
	}
	return PropertySource{Name: name, Source: values}
}

// OriginTrackedValue is a property value annotated with a description of where it came from.
// On the wire it is the object {"value": ..., "origin": "..."}.
type OriginTrackedValue struct {
	Value  any    `json:"value"`
	Origin string `json:"origin"`
}

// UnwrapValue returns the plain value of v, looking through OriginTrackedValue.
func UnwrapValue(v any) any {
	switch t := v.(type) {
	case OriginTrackedValue:
		return t.Value
	case *OriginTrackedValue:
		return t.Value
	}
	return v
}

// Endpoint is one config server base URI together with the credentials to use for it.
type Endpoint struct {
	URI      string
	Username string
	Password string
}

// RetryPolicy controls the exponential backoff used when fail-fast resolution is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     6,
		InitialInterval: time.Second,
		Multiplier:      1.1,
		MaxInterval:     2 * time.Second,
	}
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empty entries.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
