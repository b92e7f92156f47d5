package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersion(t *testing.T) {
	origMajor, origCommit := VersionMajor, GitCommit
	defer func() { VersionMajor, GitCommit = origMajor, origCommit }()

	VersionMajor = "2"
	GitCommit = "abc123"
	v := GetVersion()
	assert.Equal(t, 2, v.Major)
	assert.Equal(t, "abc123", v.GitCommit)
	assert.Equal(t, Protocol, v.Protocol)
	assert.Contains(t, GetVersionString(), "scancollab 2.")

	VersionMajor = "not-a-number"
	assert.Equal(t, 0, GetVersion().Major)
}
