package bytelevel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStandardTableIsBijective checks every one of the 256 byte values maps
// to a distinct rune and back to itself, the core invariant of spec.md §4.2.
func TestStandardTableIsBijective(t *testing.T) {
	table := NewStandard()

	seen := make(map[rune]bool, 256)
	for b := 0; b < 256; b++ {
		r := table.Encode(byte(b))
		assert.False(t, seen[r], "rune %q reused for byte %d", r, b)
		seen[r] = true

		back, ok := table.DecodeRune(r)
		require.True(t, ok)
		assert.Equal(t, byte(b), back)
	}
}

// TestPrintableBytesMapToThemselves checks spec.md §4.2's "printable ASCII
// and Latin-1 supplement map to themselves" rule.
func TestPrintableBytesMapToThemselves(t *testing.T) {
	table := NewStandard()
	for _, b := range []byte{'!', 'A', 'z', '~'} {
		assert.Equal(t, rune(b), table.Encode(b))
	}
	for _, b := range []byte{0xA1, 0xAC, 0xAE, 0xFF} {
		assert.Equal(t, rune(b), table.Encode(b))
	}
}

// TestNonPrintableBytesMapAboveLatin1 checks the remaining 68 bytes are
// pushed into U+0100 and up, never colliding with the printable set.
func TestNonPrintableBytesMapAboveLatin1(t *testing.T) {
	table := NewStandard()
	for _, b := range []byte{0x00, 0x20, 0x7F, 0xA0, 0xAD} {
		r := table.Encode(b)
		assert.GreaterOrEqual(t, r, rune(0x100))
	}
}

// TestEncodeDecodeStringRoundTrip checks EncodeString/DecodeString invert
// each other for arbitrary byte content, including non-UTF-8 garbage, per
// spec.md §4.5's round-trip guarantee.
func TestEncodeDecodeStringRoundTrip(t *testing.T) {
	table := NewStandard()
	raw := []byte{0x00, 'h', 'i', 0x20, 0xFF, 0x80, '!', 0x0A}
	encoded := table.EncodeString(string(raw))
	decoded := table.DecodeString(encoded)
	assert.Equal(t, raw, decoded)
}

// TestLoadOverridesSubstitutesMultiRuneReplacement verifies a special-chars
// file entry whose replacement is more than one rune is honored by both
// EncodeString and DecodeString.
func TestLoadOverridesSubstitutesMultiRuneReplacement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "special_chars.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 == <NUL>\n"), 0o644))

	table := NewStandard()
	require.NoError(t, table.LoadOverrides(path))

	encoded := table.EncodeString(string([]byte{0x00, 'x'}))
	assert.Contains(t, encoded, "<NUL>")

	decoded := table.DecodeString(encoded)
	assert.Equal(t, []byte{0x00, 'x'}, decoded)
}

// TestDecodeStringPrefersLongestOverride checks that when one installed
// override's replacement string is a prefix of another's, DecodeString
// always picks the longer match, deterministically and regardless of the
// order the two entries were loaded in.
func TestDecodeStringPrefersLongestOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "special_chars.txt")
	// byte 0 -> "<N>", byte 1 -> "<NUL>": "<N>" is a prefix of "<NUL>".
	require.NoError(t, os.WriteFile(path, []byte("0 == <N>\n1 == <NUL>\n"), 0o644))

	table := NewStandard()
	require.NoError(t, table.LoadOverrides(path))

	decoded := table.DecodeString("<NUL>")
	assert.Equal(t, []byte{1}, decoded, "the longer override (byte 1, \"<NUL>\") must win over its prefix")

	decoded = table.DecodeString("<N>x")
	assert.Equal(t, []byte{0, 'x'}, decoded, "with no longer match available, the shorter override still applies")
}

// TestLoadOverridesRejectsMalformedLine exercises the IoError-adjacent parse
// failure path for a line missing the " == " separator.
func TestLoadOverridesRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "special_chars.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a valid line\n"), 0o644))

	table := NewStandard()
	err := table.LoadOverrides(path)
	assert.Error(t, err)
}
