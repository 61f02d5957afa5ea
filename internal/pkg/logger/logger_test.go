package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "***(12)", MaskToken("abcdef123456"))
	assert.Equal(t, "", MaskToken(""))
}

func TestMaskClickID(t *testing.T) {
	assert.Equal(t, "ABC1***", MaskClickID("ABC123XYZ"))
	assert.Equal(t, "ABC", MaskClickID("ABC"))
}

func TestRedactValue(t *testing.T) {
	tests := []struct {
		key      string
		val      string
		expected string
	}{
		{"access_token", "supersecret1", "***(12)"},
		{"secret", "hush", "***(4)"},
		{"clickid", "ABC123XYZ", "ABC1***"},
		{"click_id", "ABC123XYZ", "ABC1***"},
		{"event", "EVENT_PURCHASE", "EVENT_PURCHASE"},
		{"pixel_id", "112572", "112572"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, redactValue(tt.key, tt.val))
		})
	}
}
