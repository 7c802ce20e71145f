package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_LdflagsWin(t *testing.T) {
	oldCommit, oldDate := GitCommit, BuildDate
	t.Cleanup(func() { GitCommit, BuildDate = oldCommit, oldDate })

	GitCommit = "abc123"
	BuildDate = "2024-05-01T12:00:00Z"

	info := Get()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, "abc123", info.Commit)
	assert.Equal(t, "2024-05-01T12:00:00Z", info.BuildDate)
	assert.NotEmpty(t, info.GoVersion)
}
