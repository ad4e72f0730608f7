package configclient

import (
	"fmt"
	"strings"

	"github.com/ruteri/config-service/interfaces"
)

// ServerError is returned when a config server answers with an error status
// other than 404. Body holds the response body when it was JSON.
type ServerError struct {
	URI        string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("config server %s returned status %d", e.URI, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NotFoundError is returned when no label on any endpoint had an environment.
type NotFoundError struct {
	Labels []string
}

func (e *NotFoundError) Error() string {
	return "None of labels [" + strings.Join(e.Labels, ", ") + "] found"
}

// Is makes NotFoundError match interfaces.ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == interfaces.ErrNotFound
}

// FailFastError aborts resolution when configuration is required but could
// not be located.
type FailFastError struct {
	Reason string
	Body   string
	Err    error
}

func (e *FailFastError) Error() string {
	msg := "Could not locate PropertySource and " + e.Reason + ", failing"
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *FailFastError) Unwrap() error {
	return e.Err
}
