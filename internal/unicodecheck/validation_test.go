package unicodecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"plain ascii", "router-core-01", nil},
		{"accented composed", "caf\u00E9", nil},
		{"cjk", "\u4EA4\u63DB\u6A5F", nil},
		{"tab", "D1\tD2", ErrControlChars},
		{"newline", "D1\n", ErrControlChars},
		{"nul", "D\x001", ErrControlChars},
		{"zero width space", "D\u200B1", ErrZeroWidth},
		{"word joiner", "D\u20601", ErrZeroWidth},
		{"bom", "\uFEFFD1", ErrZeroWidth},
		{"rtl override", "D1\u202Etxt", ErrBidiOverride},
		{"isolate", "\u2066D1", ErrBidiOverride},
		{"decomposed accent", "cafe\u0301", ErrNotNormalized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIdentifier(tt.input)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestContainsHelpers(t *testing.T) {
	assert.True(t, ContainsZeroWidthChars("a\u200Db"))
	assert.False(t, ContainsZeroWidthChars("ab"))
	assert.True(t, ContainsBidiOverrides("a\u202Ab"))
	assert.False(t, ContainsBidiOverrides("a\u200Fb"))
	assert.True(t, ContainsControlChars("\x7f"))
	assert.True(t, IsNFCNormalized(""))
}

func TestSanitizeForLogging(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"clean", "lock_request", 0, "lock_request"},
		{"newline injection", "x\nINFO fake", 0, "x[CTRL]INFO fake"},
		{"invisible", "a\u200Bb\u202Ec", 0, "a[ZW]b[ZW]c"},
		{"truncated", "abcdef", 3, "abc..."},
		{"exact length", "abc", 3, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeForLogging(tt.input, tt.maxLen))
		})
	}
}
