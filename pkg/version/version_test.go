package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_LdflagsWins(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.4.0"
	assert.Equal(t, "v1.4.0", Get())
}

func TestGet_Fallback(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = ""
	s := Get()
	assert.NotEmpty(t, s)
	assert.Equal(t, byte('v'), s[0])
}
