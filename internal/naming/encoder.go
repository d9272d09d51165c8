// Package naming maps instance display names to filesystem-safe names and
// back.
//
// Windows does not allow the following characters in file names:
// < > : " / \ | ? *
// and also rejects leading/trailing spaces, trailing dots, and a set of
// reserved device names. The dedup marker '~' is additionally treated as
// forbidden so that suffix parsing can never be confused by a literal tilde
// in a decoded name.
//
// Encoding replaces each forbidden character with a fixed %NAME% token
// (e.g. '<' becomes %LT%). A literal '%' is self-escaped as %PCT% before any
// other token applies, and decoded back last, so encode/decode commute even
// when the input coincidentally contains a token-shaped substring.
package naming

import (
	"fmt"
	"strings"
)

// escapeMarker is the character framing every escape token.
const escapeMarker = '%'

// charTokens maps each forbidden character to its escape token name (the
// text between the two markers). The table is exhaustive and
// order-independent: no token name is a prefix of another.
var charTokens = map[rune]string{
	'<':  "LT",
	'>':  "GT",
	':':  "COLON",
	'"':  "QUOTE",
	'/':  "SLASH",
	'\\': "BSLASH",
	'|':  "PIPE",
	'?':  "QMARK",
	'*':  "STAR",
	'~':  "TILDE",
}

// tokenChars is the reverse of charTokens, plus tokens the encoder only
// emits positionally (%SPACE%, %DOT%) and the self-escape (%PCT%).
var tokenChars = func() map[string]rune {
	m := make(map[string]rune, len(charTokens)+3)
	for ch, tok := range charTokens {
		m[tok] = ch
	}
	m["PCT"] = '%'
	m["SPACE"] = ' '
	m["DOT"] = '.'
	return m
}()

const (
	spaceToken    = "%SPACE%"
	dotToken      = "%DOT%"
	reservedToken = "%RESERVED%"
)

// invalidWindowsNames are file names reserved by Windows regardless of
// extension, matched case-insensitively.
var invalidWindowsNames = []string{
	"CON", "PRN", "AUX", "NUL",
	"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
	"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
}

// dangerousSuffixes are name endings (case-insensitive) that would create a
// compound extension and trick middleware classification. Example: instance
// "foo.server" plus extension ".lua" yields "foo.server.lua", which reads as
// a server script instead of the intended module script.
var dangerousSuffixes = []string{
	".server", ".client", ".meta", ".model", ".project",
}

// NeedsEncoding reports whether a display name requires encoding before it
// can be used as a filename component. Empty names are rejected upstream and
// never reach this package.
func NeedsEncoding(name string) bool {
	if name == "" {
		return true
	}
	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") || strings.HasSuffix(name, ".") {
		return true
	}
	for _, ch := range name {
		if _, forbidden := charTokens[ch]; forbidden || ch < 0x20 {
			return true
		}
	}
	if hasDangerousSuffix(name) {
		return true
	}
	if isReservedName(name) {
		return true
	}
	// A name that happens to contain a decodable token substring (e.g. a
	// literal "%LT%") must be encoded, or decoding it later would mangle it.
	// A bare '%' that forms no token is fine as-is.
	return strings.ContainsRune(name, escapeMarker) && Decode(name) != name
}

func hasDangerousSuffix(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range dangerousSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func isReservedName(name string) bool {
	for _, reserved := range invalidWindowsNames {
		if strings.EqualFold(name, reserved) {
			return true
		}
	}
	return false
}

// Encode converts a display name into a filesystem-safe slug. The result
// never contains a forbidden character and always round-trips through
// Decode. Collisions between distinct inputs (e.g. "Hey/Bro" and "Hey:Bro"
// encode differently, but "A<B" and a literal "A%LT%B" do not collide
// because '%' self-escapes) are still possible at the dedup level and are
// handled by Deduplicate, not here.
func Encode(name string) string {
	// Leading and trailing spaces are encoded positionally; middle spaces
	// are valid in filenames and left alone.
	lead := 0
	for lead < len(name) && name[lead] == ' ' {
		lead++
	}
	trail := 0
	for trail < len(name)-lead && name[len(name)-1-trail] == ' ' {
		trail++
	}
	middle := name[lead : len(name)-trail]

	var b strings.Builder
	b.Grow(len(name) + 8)
	for i := 0; i < lead; i++ {
		b.WriteString(spaceToken)
	}
	for _, ch := range middle {
		switch {
		case ch == escapeMarker:
			// Self-escape runs before the table by construction: every
			// character is mapped exactly once, left to right.
			b.WriteString("%PCT%")
		case ch < 0x20:
			fmt.Fprintf(&b, "%%C%02X%%", ch)
		default:
			if tok, forbidden := charTokens[ch]; forbidden {
				b.WriteByte(escapeMarker)
				b.WriteString(tok)
				b.WriteByte(escapeMarker)
			} else {
				b.WriteRune(ch)
			}
		}
	}
	for i := 0; i < trail; i++ {
		b.WriteString(spaceToken)
	}

	encoded := b.String()

	// A trailing dot is invalid on Windows; encode the final dot, looping in
	// case the name ends with several.
	for strings.HasSuffix(encoded, ".") {
		encoded = encoded[:len(encoded)-1] + dotToken
	}

	// A dangerous suffix would corrupt middleware classification once an
	// extension is appended. Encode the dot that starts the suffix.
	for hasDangerousSuffix(encoded) {
		pos := strings.LastIndexByte(encoded, '.')
		if pos < 0 {
			break
		}
		encoded = encoded[:pos] + dotToken + encoded[pos+1:]
	}

	// Windows-reserved names get a marker token appended; Decode strips it.
	if isReservedName(encoded) {
		encoded += reservedToken
	}

	if encoded == "" {
		// Names consisting entirely of characters stripped above still need
		// a valid filename component. Cannot happen for non-empty input with
		// the token scheme, but guard anyway.
		encoded = "instance"
	}

	return encoded
}

// Decode converts a slug back into the display name it encodes. Names that
// contain no escape tokens pass through unchanged, which keeps files written
// before encoding was enabled working: a bare '%' that does not start a
// known token is treated as a literal.
func Decode(slug string) string {
	s := strings.TrimSuffix(slug, reservedToken)

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != escapeMarker {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i+1:], escapeMarker)
		if end < 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		tok := s[i+1 : i+1+end]
		if ch, ok := tokenChars[tok]; ok {
			// %PCT% decodes in the same left-to-right pass, which is what
			// makes it effectively "last": a token produced from a literal
			// '%' can never be re-interpreted as the start of another token.
			b.WriteRune(ch)
			i += end + 2
			continue
		}
		if ch, ok := decodeControlToken(tok); ok {
			b.WriteRune(ch)
			i += end + 2
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func decodeControlToken(tok string) (rune, bool) {
	if len(tok) != 3 || tok[0] != 'C' {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(tok[1:], "%02X", &n); err != nil {
		return 0, false
	}
	if n < 0 || n >= 0x20 {
		return 0, false
	}
	return rune(n), true
}
