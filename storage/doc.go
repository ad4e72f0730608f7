// Package storage provides environment repositories with pluggable backends.
//
// Every repository implements interfaces.EnvironmentRepository and resolves an
// Environment for an application, a profile list and a label:
//
//   - FileRepository: documents in a local directory
//   - GitHubRepository: documents in a GitHub repository, label = git ref
//   - S3Repository: documents in an S3-compatible bucket
//   - IPFSRepository: documents in an IPFS/IPNS directory
//   - VaultRepository: secrets in a Vault KV mount
//   - RedisRepository: one Redis hash per application/profile key
//   - SQLRepository: rows of a properties table (PostgreSQL via pgx, SQLite)
//   - EnvRepository: the server's own process environment
//
// # Repository URI Format
//
// Repositories are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Examples:
//
//   - file:///etc/config-repo?uri=https://git.example.com/config-repo
//   - github://acme/config-repo/services?label=main
//   - s3://bucket-name/prefix/?region=us-west-2
//   - ipfs://127.0.0.1:5001/ipns/config.example.com
//   - vault://vault.example.com:8200/secret?kv-version=2
//   - redis://localhost:6379/0
//   - postgres://user:pass@db:5432/config
//   - sqlite:///var/lib/config/properties.db
//   - env://?prefix=CONFIG_
//
// Each URI may carry order=N; lower values take precedence when repositories
// are combined.
//
// # Documents
//
// Document-based repositories look up {application}-{profile} and
// {application} documents, plus the shared "application" equivalents, with the
// extensions .properties, .yml, .yaml and .json. Nested YAML and JSON keys are
// flattened to dotted names and list elements to name[index].
//
// # Combining repositories
//
// CompositeRepository consults several repositories in precedence order and
// concatenates their property sources. CleanEnvironment rewrites source names
// and value origins recorded against a local working copy so they refer to the
// repository's canonical URI.
package storage
