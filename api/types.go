package api

import "strings"

const (
	// MediaTypeV2 is the environment media type. Requests accepting it get
	// origin-tracked values.
	MediaTypeV2 = "application/vnd.spring-cloud.config-server.v2+json"

	// MediaTypeJSON is the plain environment media type.
	MediaTypeJSON = "application/json"

	// TokenHeader carries the optional security token sent to the config server.
	TokenHeader = "X-Config-Token"

	// StateHeader carries the client's last-seen state token.
	StateHeader = "X-Config-State"

	// SlashPlaceholder stands for "/" inside a label in the request path.
	SlashPlaceholder = "(_)"
)

// DenormalizeLabel encodes a label for use as a single path segment.
func DenormalizeLabel(label string) string {
	return strings.ReplaceAll(label, "/", SlashPlaceholder)
}

// NormalizeLabel reverses DenormalizeLabel.
func NormalizeLabel(label string) string {
	return strings.ReplaceAll(label, SlashPlaceholder, "/")
}

// WantsOrigin reports whether an Accept header asks for origin-tracked values.
func WantsOrigin(accept string) bool {
	return strings.Contains(accept, MediaTypeV2)
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Status  int    `json:"status"`
}
