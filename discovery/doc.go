// Package discovery resolves config server endpoints from a service registry.
//
// A Monitor looks up the instances of the config server service, turns them into
// endpoints (honouring user, password and configPath metadata) and publishes them
// to a configclient.EndpointStore. It runs once at startup and again whenever a
// heartbeat source reports a new value. Instances come from an
// interfaces.InstanceLookup: a static list or DNS SRV records.
package discovery
