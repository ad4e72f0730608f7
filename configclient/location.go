package configclient

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ruteri/config-service/interfaces"
)

const (
	locationPrefix = "configserver:"
	optionalPrefix = "optional:"
)

// ParseLocation applies a location string to base and returns the result:
//
//	[optional:]configserver:http://a,http://b?fail-fast=true&max-attempts=6
//
// Query parameters are read from the first URI and removed from all of them.
// Recognised are fail-fast, max-attempts, initial-interval, max-interval (both
// in milliseconds) and multiplier. Without the optional: prefix the resource is
// mandatory.
func ParseLocation(location string, base Properties) (Properties, error) {
	props := base
	rest := strings.TrimSpace(location)

	props.Optional = strings.HasPrefix(rest, optionalPrefix)
	rest = strings.TrimPrefix(rest, optionalPrefix)
	if !strings.HasPrefix(rest, locationPrefix) {
		return base, fmt.Errorf("%w: location must start with %q", interfaces.ErrInvalidLocationURI, locationPrefix)
	}
	rest = strings.TrimPrefix(rest, locationPrefix)
	if rest == "" {
		return props, nil
	}

	var uris []string
	var query string
	for i, uri := range strings.Split(rest, ",") {
		uri = strings.TrimSpace(uri)
		if q := strings.Index(uri, "?"); q >= 0 {
			if i == 0 {
				query = uri[q+1:]
			}
			uri = uri[:q]
		}
		if uri != "" {
			uris = append(uris, uri)
		}
	}
	props.URIs = uris

	if query == "" {
		return props, nil
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return base, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := applyParam(&props, name, params.Get(name)); err != nil {
			return base, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
		}
	}
	return props, nil
}

func applyParam(props *Properties, name, value string) error {
	switch name {
	case "fail-fast":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("fail-fast: %w", err)
		}
		props.FailFast = b
	case "max-attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max-attempts: %w", err)
		}
		props.Retry.MaxAttempts = n
	case "initial-interval":
		d, err := parseMillis(value)
		if err != nil {
			return fmt.Errorf("initial-interval: %w", err)
		}
		props.Retry.InitialInterval = d
	case "max-interval":
		d, err := parseMillis(value)
		if err != nil {
			return fmt.Errorf("max-interval: %w", err)
		}
		props.Retry.MaxInterval = d
	case "multiplier":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("multiplier: %w", err)
		}
		props.Retry.Multiplier = f
	}
	return nil
}

func parseMillis(value string) (time.Duration, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
