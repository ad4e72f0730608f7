// Package configclient fetches configuration from config servers and keeps it
// current.
//
// A Fetcher walks labels and endpoints in order until one server returns an
// environment. The Locator applies the failure policy on top: with fail-fast it
// retries the whole fetch with exponential backoff and fails hard when nothing
// is found, otherwise an optional resource degrades to an empty snapshot.
//
// A Client owns a Session, the last seen state token and snapshot, and an
// EndpointStore that discovery may replace at any time. A Watch polls a state
// source on a fixed delay and refreshes the client when the token changes.
package configclient
