package storage

import (
	"strings"

	"github.com/ruteri/config-service/interfaces"
)

const applicationConfigPrefix = "applicationConfig: ["

// CleanEnvironment rewrites the property source names and value origins of an
// Environment produced from a local working copy so that they point at the
// repository's canonical URI instead of the working directory.
//
// A source named "applicationConfig: [/work/dir/app.yml]" becomes
// "<uri>/app.yml", and an origin "[app.yml]:3:5" becomes "[<uri>/app.yml]:3:5".
// Values without origins are copied unchanged. The input is not modified.
func CleanEnvironment(env *interfaces.Environment, workingDir, uri string) *interfaces.Environment {
	out := env.CopyHeader()

	originURI := uri
	if !strings.HasSuffix(originURI, "/") {
		originURI += "/"
	}

	for _, ps := range env.PropertySources {
		name := ps.Name
		if workingDir != "" {
			name = strings.ReplaceAll(name, workingDir, "")
		}
		name = strings.ReplaceAll(name, applicationConfigPrefix, "")
		name = uri + "/" + strings.ReplaceAll(name, "]", "")

		values := interfaces.NewOrderedValues()
		for _, key := range ps.Source.Keys() {
			v, _ := ps.Source.Get(key)
			if tracked, ok := v.(interfaces.OriginTrackedValue); ok {
				tracked.Origin = strings.ReplaceAll(tracked.Origin, "[", "["+originURI)
				v = tracked
			}
			values.Set(key, v)
		}
		out.Add(interfaces.NewPropertySource(name, values))
	}
	return out
}
