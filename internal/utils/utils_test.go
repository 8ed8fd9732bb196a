package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckIsNumbersOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"0", true},
		{"50", true},
		{"123456789", true},
		{"1234567890", false},
		{"-1", false},
		{"1e3", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CheckIsNumbersOnly(tt.in), tt.in)
	}
}

func TestCheckUUID(t *testing.T) {
	t.Parallel()

	assert.True(t, CheckUUID("3f2c8a34-55d1-4b6e-9a0f-2b7d1c9e8f01"))
	assert.False(t, CheckUUID("3f2c8a3455d14b6e9a0f2b7d1c9e8f01"))
	assert.False(t, CheckUUID("lesson-1"))

	bad, found := FirstInvalidUUID([]string{"3f2c8a34-55d1-4b6e-9a0f-2b7d1c9e8f01", "x"})
	assert.True(t, found)
	assert.Equal(t, "x", bad)
	_, found = FirstInvalidUUID(nil)
	assert.False(t, found)
}
