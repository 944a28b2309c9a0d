package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0xABCdef", "0xabcdef"},
		{"  0XAbC  ", "0xabc"},
		{"AgentOne", "agentone"},
		{"0x", "0x"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := Normalize(" \t\n")
	assert.ErrorIs(t, err, ErrEmpty)
}
