package cryptoutils

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ruteri/config-service/interfaces"
)

// KeyStore is a TextEncryptorLocator holding encryptors by alias. The "key" hint
// selects the alias; without one the default alias is used.
type KeyStore struct {
	mu           sync.RWMutex
	defaultAlias string
	encryptors   map[string]interfaces.TextEncryptor
}

// NewKeyStore creates an empty key store.
func NewKeyStore(defaultAlias string) *KeyStore {
	return &KeyStore{
		defaultAlias: defaultAlias,
		encryptors:   make(map[string]interfaces.TextEncryptor),
	}
}

// Add registers enc under alias, replacing any previous one.
func (k *KeyStore) Add(alias string, enc interfaces.TextEncryptor) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.encryptors[alias] = enc
}

// Aliases returns the registered aliases, sorted.
func (k *KeyStore) Aliases() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.encryptors))
	for alias := range k.encryptors {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Locate returns the encryptor for hints["key"], or the default alias.
func (k *KeyStore) Locate(hints map[string]string) (interfaces.TextEncryptor, error) {
	alias := hints["key"]
	if alias == "" {
		alias = k.defaultAlias
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	enc, ok := k.encryptors[alias]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key alias %q", interfaces.ErrNoEncryptor, alias)
	}
	return enc, nil
}
