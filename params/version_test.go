package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionWithCommit(t *testing.T) {
	assert.Equal(t, "0.1.0-unstable", VersionWithCommit("", ""))
	assert.Equal(t, "0.1.0-unstable-1a2b3c4d-20261017", VersionWithCommit("1a2b3c4d5e6f", "20261017"))
}
