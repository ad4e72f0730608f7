package encryption

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// HintName is the hint key carrying the property source name.
	HintName = "name"
	// HintProfiles is the hint key carrying the comma-separated profile list.
	HintProfiles = "profiles"
	// HintKey is the hint key selecting the key alias.
	HintKey = "key"

	plainEscape = "{plain}"
)

var leadingHints = regexp.MustCompile(`^(\{[^}]*?:[^}]*?\})*`)

// EncryptorKeys collects the hints used to locate a TextEncryptor for value: the
// source name, the profiles and every {name:value} prefix of value, as in
// "{key:mykey}{secret:foo}ciphertext". Parsing stops at a {plain} escape.
func EncryptorKeys(name, profiles, value string) map[string]string {
	keys := map[string]string{
		HintName:     name,
		HintProfiles: profiles,
	}

	if i := strings.Index(value, plainEscape); i >= 0 {
		value = value[:i]
	}
	for strings.HasPrefix(value, "{") {
		end := strings.Index(value, "}")
		colon := strings.Index(value, ":")
		if end < 0 || colon < 0 || colon > end {
			break
		}
		keys[value[1:colon]] = value[colon+1 : end]
		value = value[end+1:]
	}
	return keys
}

// StripPrefix removes the {name:value} hint prefixes from value. Everything after
// a {plain} escape is returned untouched.
func StripPrefix(value string) string {
	if !strings.Contains(value, "{") {
		return value
	}
	if i := strings.Index(value, plainEscape); i >= 0 {
		return value[i+len(plainEscape):]
	}
	return leadingHints.ReplaceAllString(value, "")
}

// AddPrefix puts the hints other than name and profiles back in front of value,
// sorted by hint name, so that the result can be decrypted with the same key.
func AddPrefix(keys map[string]string, value string) string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		if k != HintName && k != HintProfiles {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, k := range names {
		b.WriteString("{" + k + ":" + keys[k] + "}")
	}
	b.WriteString(value)
	return b.String()
}
