package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ruteri/config-service/interfaces"
)

type repositoryConfig struct {
	URI   string `toml:"uri"`
	Order *int   `toml:"order"`
}

type encryptConfig struct {
	Key          string `toml:"key"`
	Salt         string `toml:"salt"`
	KeyAlias     string `toml:"key_alias"`
	ECIESKeyFile string `toml:"ecies_key_file"`
	VaultURI     string `toml:"vault_uri"`
}

type fileConfig struct {
	ListenAddr    string             `toml:"listen_addr"`
	FailOnError   bool               `toml:"fail_on_error"`
	Repositories  []repositoryConfig `toml:"repositories"`
	Overrides     map[string]string  `toml:"overrides"`
	Encrypt       encryptConfig      `toml:"encrypt"`
	AdminKeysFile string             `toml:"admin_keys_file"`
}

// serverConfig is the resolved server configuration: file values overridden by
// flags that were set explicitly.
type serverConfig struct {
	ListenAddr    string
	FailOnError   bool
	Repositories  []interfaces.RepositoryLocation
	Overrides     map[string]string
	EncryptKey    string
	EncryptSalt   string
	KeyAlias      string
	ECIESKeyFile  string
	VaultURI      string
	AdminKeysFile string
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		ListenAddr: "127.0.0.1:8888",
		KeyAlias:   "default",
		Overrides:  map[string]string{},
	}
}

func loadServerConfig(path string, cfg serverConfig) (serverConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load config server config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return serverConfig{}, fmt.Errorf("load config server config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("fail_on_error") {
		cfg.FailOnError = raw.FailOnError
	}
	for i, repo := range raw.Repositories {
		loc, err := repositoryLocation(repo)
		if err != nil {
			return serverConfig{}, fmt.Errorf("repositories[%d]: %w", i, err)
		}
		cfg.Repositories = append(cfg.Repositories, loc)
	}
	for k, v := range raw.Overrides {
		cfg.Overrides[k] = v
	}

	if meta.IsDefined("encrypt", "key") {
		cfg.EncryptKey = raw.Encrypt.Key
	}
	if meta.IsDefined("encrypt", "salt") {
		cfg.EncryptSalt = raw.Encrypt.Salt
	}
	if meta.IsDefined("encrypt", "key_alias") {
		cfg.KeyAlias = strings.TrimSpace(raw.Encrypt.KeyAlias)
	}
	if meta.IsDefined("encrypt", "ecies_key_file") {
		cfg.ECIESKeyFile = raw.Encrypt.ECIESKeyFile
	}
	if meta.IsDefined("encrypt", "vault_uri") {
		cfg.VaultURI = raw.Encrypt.VaultURI
	}
	if meta.IsDefined("admin_keys_file") {
		cfg.AdminKeysFile = raw.AdminKeysFile
	}
	return cfg, nil
}

// repositoryLocation turns a repository table into a location, carrying an
// explicit order as the order query parameter.
func repositoryLocation(repo repositoryConfig) (interfaces.RepositoryLocation, error) {
	uri := strings.TrimSpace(repo.URI)
	if uri == "" {
		return interfaces.RepositoryLocation{}, fmt.Errorf("%w: empty uri", interfaces.ErrInvalidLocationURI)
	}
	if repo.Order != nil {
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		uri = fmt.Sprintf("%s%sorder=%d", uri, sep, *repo.Order)
	}
	return interfaces.NewRepositoryLocation(uri)
}

// parseOverrides parses key=value pairs given on the command line.
func parseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid override %q, expected key=value", pair)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
