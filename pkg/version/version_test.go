package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/macropower/fsradar/pkg/version"
)

func TestGetVersion(t *testing.T) {
	t.Parallel()

	assert.NotEmpty(t, version.GetVersion())

	if version.Version == "" {
		assert.Equal(t, version.Revision, version.GetVersion())
	}
}

func TestInfo(t *testing.T) {
	t.Parallel()

	info := version.Info()
	assert.Contains(t, info, version.GoVersion)
	assert.Contains(t, info, version.GoOS+"/"+version.GoArch)
	assert.Contains(t, info, "revision "+version.Revision)
}
