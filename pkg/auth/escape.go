package auth

import (
	"html"
	"strings"
)

const hexDigits = "0123456789ABCDEF"

// EscapeScriptLiteral escapes text for use inside a single-quoted script
// string. Backslashes are escaped first, then quotes.
func EscapeScriptLiteral(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, `\`, `\\`), `'`, `\'`)
}

// EscapeMarkup escapes text for use in HTML content or attribute values.
func EscapeMarkup(text string) string {
	return html.EscapeString(text)
}

// EscapeID turns an arbitrary string (for example a host username) into a
// valid Hawthorn identifier. Every byte outside [A-Za-z0-9], including the
// underscore itself, becomes _XX with two uppercase hex digits.
func EscapeID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlnum(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// UnescapeID reverses EscapeID. Hex digits are accepted in either case.
func UnescapeID(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '_' {
			if !isAlnum(c) {
				return "", ErrInvalidEscape
			}
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", ErrInvalidEscape
		}
		hi, ok1 := fromHex(s[i+1])
		lo, ok2 := fromHex(s[i+2])
		if !ok1 || !ok2 {
			return "", ErrInvalidEscape
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), nil
}

func isAlnum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
