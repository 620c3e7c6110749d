package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProcessIdIsUniqueAndPrefixed(t *testing.T) {
	a := NewProcessId("channel")
	b := NewProcessId("channel")
	assert.NotEqual(t, a, b)
	assert.Contains(t, string(a), "channel-")
}

func TestChannelIdIsDeterministicForSameCoordinates(t *testing.T) {
	a := NewChannelId("discord", "guild-1:thread-2")
	b := NewChannelId("discord", "guild-1:thread-2")
	assert.Equal(t, a, b)
}

func TestChannelIdDistinguishesScope(t *testing.T) {
	a := NewChannelId("discord", "guild-1")
	b := NewChannelId("discord", "guild-2")
	assert.NotEqual(t, a, b)
}
