// Package unicodecheck rejects Unicode that can disguise identifiers shared
// between collaborators: device ids, vendor groups and scan ids are shown to
// other users and used as document keys, so invisible or reordering
// characters in them are refused rather than stored.
package unicodecheck

import (
	"errors"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrControlChars  = errors.New("contains control characters")
	ErrZeroWidth     = errors.New("contains zero-width characters")
	ErrBidiOverride  = errors.New("contains bidirectional overrides")
	ErrNotNormalized = errors.New("is not NFC normalized")
)

var zeroWidthChars = []rune{
	'\u200B', // zero width space
	'\u200C', // zero width non-joiner
	'\u200D', // zero width joiner
	'\u200E', // left-to-right mark
	'\u200F', // right-to-left mark
	'\u2060', // word joiner
	'\uFEFF', // byte order mark
}

var bidiOverrideChars = []rune{
	'\u202A', '\u202B', '\u202C', '\u202D', '\u202E',
	'\u2066', '\u2067', '\u2068', '\u2069',
}

// CheckIdentifier returns the first problem found in s, or nil.
func CheckIdentifier(s string) error {
	switch {
	case ContainsControlChars(s):
		return ErrControlChars
	case ContainsZeroWidthChars(s):
		return ErrZeroWidth
	case ContainsBidiOverrides(s):
		return ErrBidiOverride
	case !IsNFCNormalized(s):
		return ErrNotNormalized
	}
	return nil
}

func ContainsZeroWidthChars(s string) bool {
	return strings.ContainsFunc(s, isZeroWidthChar)
}

func ContainsBidiOverrides(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return slices.Contains(bidiOverrideChars, r)
	})
}

// ContainsControlChars reports C0/C1 controls, tab and newlines included.
func ContainsControlChars(s string) bool {
	return strings.ContainsFunc(s, unicode.IsControl)
}

func IsNFCNormalized(s string) bool {
	return norm.NFC.IsNormalString(s)
}

// SanitizeForLogging makes client-supplied text safe to interpolate into a
// log line. Control characters become [CTRL] and invisible ones [ZW]; the
// result is truncated to maxLen runes when maxLen > 0.
func SanitizeForLogging(s string, maxLen int) string {
	var b strings.Builder
	n := 0
	for _, r := range s {
		if maxLen > 0 && n == maxLen {
			b.WriteString("...")
			break
		}
		n++
		switch {
		case unicode.IsControl(r):
			b.WriteString("[CTRL]")
		case isZeroWidthChar(r), slices.Contains(bidiOverrideChars, r):
			b.WriteString("[ZW]")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isZeroWidthChar(r rune) bool {
	return slices.Contains(zeroWidthChars, r)
}
