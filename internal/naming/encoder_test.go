package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeAllForbiddenChars(t *testing.T) {
	input := `<>:"/\|?*~`
	expected := "%LT%%GT%%COLON%%QUOTE%%SLASH%%BSLASH%%PIPE%%QMARK%%STAR%%TILDE%"
	assert.Equal(t, expected, Encode(input))
}

func TestDecodeAllForbiddenChars(t *testing.T) {
	input := "%LT%%GT%%COLON%%QUOTE%%SLASH%%BSLASH%%PIPE%%QMARK%%STAR%%TILDE%"
	expected := `<>:"/\|?*~`
	assert.Equal(t, expected, Decode(input))
}

func TestEncodeDecodeRoundTripPerChar(t *testing.T) {
	// Every forbidden character individually
	for ch := range charTokens {
		name := "A" + string(ch) + "B"
		assert.Equal(t, name, Decode(Encode(name)), "char %q", ch)
	}
}

func TestEncodeDecodeMarkerSelfEscape(t *testing.T) {
	cases := []string{
		"100%",
		"%LT%",            // literally named like a token
		"50%PCT%",         // literally named like the self-escape
		"a%b%c",
		"%",
	}
	for _, name := range cases {
		encoded := Encode(name)
		assert.Equal(t, name, Decode(encoded), "input %q encoded as %q", name, encoded)
	}
}

func TestEncodeNoSpecialCharsUnchanged(t *testing.T) {
	assert.Equal(t, "NormalFileName", Encode("NormalFileName"))
}

func TestDecodeCleanNameIsNoOp(t *testing.T) {
	// Files written before encoding was enabled must read back unchanged.
	for _, name := range []string{"NormalFileName", "With Spaces Inside", "dots.in.middle", "100% legit"} {
		assert.Equal(t, name, Decode(name))
	}
}

func TestEncodeLeadingTrailingSpaces(t *testing.T) {
	assert.Equal(t, "%SPACE%%SPACE%Lead", Encode("  Lead"))
	assert.Equal(t, "Trail%SPACE%", Encode("Trail "))
	assert.Equal(t, "%SPACE%Both%SPACE%", Encode(" Both "))
	assert.Equal(t, "Middle Spaces", Encode("Middle Spaces"))

	for _, name := range []string{"  Lead", "Trail ", " Both ", " "} {
		assert.Equal(t, name, Decode(Encode(name)))
	}
}

func TestEncodeTrailingDot(t *testing.T) {
	assert.Equal(t, "Version 2%DOT%", Encode("Version 2."))
	assert.Equal(t, "Version 2.", Decode("Version 2%DOT%"))
}

func TestEncodeDangerousSuffixes(t *testing.T) {
	// "foo.server" + ".lua" would read as a server script; the dot that
	// starts the suffix gets encoded.
	encoded := Encode("foo.server")
	assert.Equal(t, "foo%DOT%server", encoded)
	assert.Equal(t, "foo.server", Decode(encoded))

	// Nested: fixing one suffix can reveal another
	encoded = Encode("a.meta.server")
	assert.False(t, hasDangerousSuffix(encoded))
	assert.Equal(t, "a.meta.server", Decode(encoded))
}

func TestEncodeWindowsReservedNames(t *testing.T) {
	for _, name := range []string{"CON", "con", "NUL", "COM3", "lpt9"} {
		encoded := Encode(name)
		assert.NotEqual(t, name, encoded, "reserved name must change")
		assert.Equal(t, name, Decode(encoded), "round trip for %q", name)
	}
}

func TestEncodeControlChars(t *testing.T) {
	name := "a\tb\nc"
	encoded := Encode(name)
	assert.Equal(t, "a%C09%b%C0A%c", encoded)
	assert.Equal(t, name, Decode(encoded))
}

func TestEncodeAllForbiddenProducesNonEmpty(t *testing.T) {
	encoded := Encode("///")
	assert.NotEmpty(t, encoded)
	assert.NoError(t, ValidateFileName(encoded))
}

func TestNeedsEncoding(t *testing.T) {
	needs := []string{
		"a/b", "a:b", "a~b", " lead", "trail ", "trail.",
		"CON", "foo.server", "foo.Meta", "a\x01b", "%LT%literal",
	}
	for _, name := range needs {
		assert.True(t, NeedsEncoding(name), "%q should need encoding", name)
	}

	clean := []string{"Normal", "With Space", "dots.inside", "ünïcode", "foo.serverish", "100% legit"}
	for _, name := range clean {
		assert.False(t, NeedsEncoding(name), "%q should not need encoding", name)
	}
}

func TestEncodedNamesAreValidFilenames(t *testing.T) {
	inputs := []string{
		`<>:"/\|?*~`, "  CON  ", "foo.server", "a\x1fb", "100%", "tilde~2", "CON",
	}
	for _, name := range inputs {
		assert.NoError(t, ValidateFileName(Encode(name)), "Encode(%q) = %q", name, Encode(name))
	}
}

func TestUnicodePreserved(t *testing.T) {
	name := "Привет▸世界"
	assert.Equal(t, name, Encode(name))
	assert.Equal(t, name, Decode(name))
}
