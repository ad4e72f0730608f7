package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/config-service/interfaces"
)

func TestCleanEnvironment(t *testing.T) {
	values := interfaces.NewOrderedValues()
	values.Set("plain", "value")
	values.Set("tracked", interfaces.OriginTrackedValue{Value: "v", Origin: "[foo.yml]:3:5"})

	env := interfaces.NewEnvironment("foo", []string{"dev"}, "main")
	env.Version = "abc"
	env.Add(interfaces.NewPropertySource("applicationConfig: [/tmp/work/foo.yml]", values))

	cleaned := CleanEnvironment(env, "/tmp/work/", "https://git.example.com/repo")

	require.Len(t, cleaned.PropertySources, 1)
	ps := cleaned.PropertySources[0]
	assert.Equal(t, "https://git.example.com/repo/foo.yml", ps.Name)

	plain, _ := ps.Source.Get("plain")
	assert.Equal(t, "value", plain)
	tracked, _ := ps.Source.Get("tracked")
	assert.Equal(t, interfaces.OriginTrackedValue{Value: "v", Origin: "[https://git.example.com/repo/foo.yml]:3:5"}, tracked)

	assert.Equal(t, "abc", cleaned.Version)
	assert.Equal(t, []string{"plain", "tracked"}, ps.Source.Keys())

	// Input is left untouched
	assert.Equal(t, "applicationConfig: [/tmp/work/foo.yml]", env.PropertySources[0].Name)
	original, _ := values.Get("tracked")
	assert.Equal(t, "[foo.yml]:3:5", original.(interfaces.OriginTrackedValue).Origin)
}

func TestCleanEnvironment_TrailingSlashURI(t *testing.T) {
	values := interfaces.NewOrderedValues()
	values.Set("k", interfaces.OriginTrackedValue{Value: "v", Origin: "[a.yml]:1:4"})
	env := interfaces.NewEnvironment("foo", nil, "")
	env.Add(interfaces.NewPropertySource("applicationConfig: [/w/a.yml]", values))

	cleaned := CleanEnvironment(env, "/w/", "s3://bucket/")

	k, _ := cleaned.PropertySources[0].Source.Get("k")
	assert.Equal(t, "[s3://bucket/a.yml]:1:4", k.(interfaces.OriginTrackedValue).Origin)
}
