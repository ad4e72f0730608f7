package interfaces

import (
	"context"
	"net"
	"strconv"
)

// ServiceInstance is one registered instance of a service as reported by a
// discovery backend.
type ServiceInstance struct {
	ServiceID string
	Host      string
	Port      int
	Secure    bool
	Metadata  map[string]string
}

// URI returns the base URI of the instance.
func (s ServiceInstance) URI() string {
	scheme := "http"
	if s.Secure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// InstanceLookup returns the current instances of a service.
type InstanceLookup func(ctx context.Context, serviceID string) ([]ServiceInstance, error)
