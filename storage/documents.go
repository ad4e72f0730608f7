package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/magiconair/properties"
	"gopkg.in/yaml.v3"

	"github.com/ruteri/config-service/interfaces"
)

// DocumentExtensions are the file extensions understood by ParseDocument, in lookup order.
var DocumentExtensions = []string{"properties", "yml", "yaml", "json"}

// ParseDocument flattens a configuration document into an ordered set of
// dotted keys. The format is chosen from the extension of name.
//
// When includeOrigin is set every value is wrapped in an OriginTrackedValue whose
// origin reads "[<name>]:<line>:<column>" (line and column only where the format
// records them).
func ParseDocument(name string, data []byte, includeOrigin bool) (*interfaces.OrderedValues, error) {
	switch strings.TrimPrefix(path.Ext(name), ".") {
	case "properties":
		return parseProperties(name, data, includeOrigin)
	case "yml", "yaml", "json":
		return parseYAML(name, data, includeOrigin)
	default:
		return nil, fmt.Errorf("unsupported document type: %s", name)
	}
}

func parseProperties(name string, data []byte, includeOrigin bool) (*interfaces.OrderedValues, error) {
	loader := &properties.Loader{Encoding: properties.UTF8, DisableExpansion: true}
	p, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}

	out := interfaces.NewOrderedValues()
	for _, key := range p.Keys() {
		value, _ := p.Get(key)
		if includeOrigin {
			out.Set(key, interfaces.OriginTrackedValue{Value: value, Origin: "[" + name + "]"})
		} else {
			out.Set(key, value)
		}
	}
	return out, nil
}

// parseYAML handles both YAML and JSON, the latter being a YAML subset.
// Multiple YAML documents in one file are merged, later documents winning.
func parseYAML(name string, data []byte, includeOrigin bool) (*interfaces.OrderedValues, error) {
	out := interfaces.NewOrderedValues()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		f := flattener{name: name, includeOrigin: includeOrigin, out: out}
		if err := f.walk("", &doc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
	}
	return out, nil
}

type flattener struct {
	name          string
	includeOrigin bool
	out           *interfaces.OrderedValues
}

func (f *flattener) walk(prefix string, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if err := f.walk(prefix, c); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		if len(n.Content) == 0 && prefix != "" {
			f.set(prefix, "", n)
		}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := f.walk(key, n.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		if len(n.Content) == 0 && prefix != "" {
			f.set(prefix, "", n)
		}
		for i, c := range n.Content {
			if err := f.walk(prefix+"["+strconv.Itoa(i)+"]", c); err != nil {
				return err
			}
		}
	case yaml.AliasNode:
		return f.walk(prefix, n.Alias)
	case yaml.ScalarNode:
		if prefix == "" {
			return fmt.Errorf("line %d: top level must be a mapping", n.Line)
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		f.set(prefix, v, n)
	}
	return nil
}

func (f *flattener) set(key string, value any, n *yaml.Node) {
	if !f.includeOrigin {
		f.out.Set(key, value)
		return
	}
	f.out.Set(key, interfaces.OriginTrackedValue{
		Value:  value,
		Origin: fmt.Sprintf("[%s]:%d:%d", f.name, n.Line, n.Column),
	})
}

// candidateNames returns the document base names to look up for an
// application and profile list, highest precedence first: profile-specific
// documents before plain ones, later profiles before earlier ones, and the
// application's own documents before the shared "application" ones.
func candidateNames(application string, profiles []string) []string {
	apps := []string{application}
	if application != "application" {
		apps = append(apps, "application")
	}

	var names []string
	for i := len(profiles) - 1; i >= 0; i-- {
		for _, app := range apps {
			names = append(names, app+"-"+profiles[i])
		}
	}
	for _, app := range apps {
		names = append(names, app)
	}
	return names
}

// profilesOf splits a comma-separated profile list, defaulting to "default".
func profilesOf(profile string) []string {
	profiles := interfaces.SplitCSV(profile)
	if len(profiles) == 0 {
		return []string{"default"}
	}
	return profiles
}
