package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	n := NewNormalizer("gb")

	cases := map[string]string{
		"+44 7400 123456": "+447400123456",
		"07400 123456":    "+447400123456",
		"447400123456":    "+447400123456",
		"+1 650-253-0000": "+16502530000",
	}

	for in, want := range cases {
		got, err := n.Canonical(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestCanonical_Invalid(t *testing.T) {
	n := NewNormalizer("GB")

	for _, in := range []string{"", "   ", "hello", "123"} {
		_, err := n.Canonical(in)
		assert.ErrorIs(t, err, ErrInvalidNumber, in)
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "*********0123", Mask("+447700900123"))
	assert.Equal(t, "****", Mask("12"))
}
