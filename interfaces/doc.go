// Package interfaces defines the core types and contracts shared by the config
// server and the config client.
//
// # Environment model
//
// Environment: the resolved configuration for one request. It carries the
// application name, the active profiles, the label, an ordered list of
// property sources (earlier sources take precedence) and optional version and
// state tokens.
//
// PropertySource: a named set of values kept in insertion order by
// OrderedValues, so that the JSON encoding round-trips key order.
//
// OriginTrackedValue: a value together with a human-readable origin string.
//
// # Repository contracts
//
// EnvironmentRepository: resolves an Environment from some backend (files,
// GitHub, S3, IPFS, Vault, Redis, SQL).
//
// EnvironmentDecryptor: rewrites encrypted values of an Environment in place of
// the raw ciphertext, recording failures as invalid.<key> entries.
//
// TextEncryptor and TextEncryptorLocator: single-value encryption and the
// lookup of an encryptor by key alias.
//
// # Locations
//
// RepositoryLocation parses backend URIs of the form
// [scheme]://[auth@]host[:port][/path][?params].
package interfaces
