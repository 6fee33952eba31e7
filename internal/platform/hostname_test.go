package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortHostname(t *testing.T) {
	assert.Equal(t, "raftis-0-lvs", ShortHostname("raftis-0-lvs.dev.example.com"))
}

func TestShortHostname_TrailingDot(t *testing.T) {
	assert.Equal(t, "raftis-0-lvs", ShortHostname("raftis-0-lvs.dev.example.com."))
}

func TestShortHostname_Bare(t *testing.T) {
	assert.Equal(t, "raftis-0-lvs", ShortHostname("raftis-0-lvs"))
}
