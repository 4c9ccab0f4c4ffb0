package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given: the version package is imported

	// When: accessing Version

	// Then: it is "dev" or a semver string injected by ldflags
	require.NotEmpty(t, Version)
	if Version == "dev" {
		return
	}
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semverRegex.MatchString(Version), "got: %s", Version)
}

func TestString_ReturnsFormattedString(t *testing.T) {
	// Given: the version package is imported

	// When: calling String()
	str := String()

	// Then: it names the program and carries build info
	assert.Contains(t, str, "amanrag "+Version)
	assert.Contains(t, str, "commit: "+Commit)
	assert.Contains(t, str, "go: "+GoVersion)
	assert.Equal(t, Version, Short())
}

func TestGetInfo_MarshalsToJSON(t *testing.T) {
	// Given: the version package is imported

	// When: marshalling GetInfo()
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	// Then: platform fields come from the runtime
	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, Version, got["version"])
	assert.Equal(t, runtime.GOOS, got["os"])
	assert.Equal(t, runtime.GOARCH, got["arch"])
	assert.Equal(t, runtime.Version(), got["go_version"])
}
