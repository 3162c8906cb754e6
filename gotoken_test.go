package gotoken

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gotoken/internal/bytelevel"
)

// buildTestVocabFile writes a byte-encoder vocabulary: one single-byte token
// per raw byte value (ids 0..255, via the standard GPT-2 byte alphabet) plus
// a handful of merges chaining "h"+"e"->"he", "he"+"l"->"hel",
// "hel"+"l"->"hell", "hell"+"o"->"hello", and "Ġ"+"hello"->" hello" (i.e. a
// prefixed single-token "hello" following a space, the real-world shape
// that drives the prefix-sentinel auto-detection probe).
func buildTestVocabFile(t *testing.T) string {
	t.Helper()
	table := bytelevel.NewStandard()

	var sb strings.Builder
	hexOf := func(s string) string {
		var h strings.Builder
		for i := 0; i < len(s); i++ {
			fmt.Fprintf(&h, "0x%02X", s[i])
		}
		return h.String()
	}

	nextID := int32(0)
	writeEntry := func(tokenBytes string) int32 {
		id := nextID
		nextID++
		fmt.Fprintf(&sb, "%s == %d\n", hexOf(tokenBytes), id)
		return id
	}

	byteTok := make(map[byte]int32, 256)
	for b := 0; b < 256; b++ {
		encoded := string(table.Encode(byte(b)))
		byteTok[byte(b)] = writeEntry(encoded)
	}

	encOf := func(raw byte) string { return string(table.Encode(raw)) }

	heBytes := encOf('h') + encOf('e')
	writeEntry(heBytes)
	helBytes := heBytes + encOf('l')
	writeEntry(helBytes)
	hellBytes := helBytes + encOf('l')
	writeEntry(hellBytes)
	helloBytes := hellBytes + encOf('o')
	writeEntry(helloBytes)
	spacedHello := encOf(' ') + helloBytes
	writeEntry(spacedHello)

	_ = byteTok

	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tk, err := New(Config{
		VocabPath:     buildTestVocabFile(t),
		IsByteEncoder: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tk.Close() })
	return tk
}

// TestEncodeDecodeRoundTrip checks spec.md §4.5's round-trip guarantee for a
// word fully covered by the vocabulary's merge chain.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	tk := newTestTokenizer(t)

	ids, err := tk.Encode(" hello")
	require.NoError(t, err)
	require.Len(t, ids, 1, "the full merge chain should collapse ' hello' to one token")

	text, err := tk.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, " hello", text)
}

// TestEncodeFallsBackToByteTokensOutsideMergeChain checks a word with no
// registered merges still encodes byte-by-byte and round-trips.
func TestEncodeFallsBackToByteTokensOutsideMergeChain(t *testing.T) {
	tk := newTestTokenizer(t)

	ids, err := tk.Encode("zq")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	text, err := tk.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "zq", text)
}

// TestEncodeHonorsExplicitZeroUnknownTokenID checks that an UnknownTokenID
// of 0 is used as-is rather than being coerced into "none configured": 0 is
// itself a legitimate vocabulary id a caller may deliberately choose as the
// fallback.
func TestEncodeHonorsExplicitZeroUnknownTokenID(t *testing.T) {
	table := bytelevel.NewStandard()
	var sb strings.Builder
	hexOf := func(raw byte) string {
		encoded := string(table.Encode(raw))
		var h strings.Builder
		for i := 0; i < len(encoded); i++ {
			fmt.Fprintf(&h, "0x%02X", encoded[i])
		}
		return h.String()
	}
	fmt.Fprintf(&sb, "%s == 0\n", hexOf('a'))
	fmt.Fprintf(&sb, "%s == 1\n", hexOf('b'))

	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	zero := int32(0)
	tk, err := New(Config{VocabPath: path, IsByteEncoder: true, UnknownTokenID: &zero})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tk.Close() })

	ids, err := tk.Encode("z")
	require.NoError(t, err, "z has no vocabulary entry, but UnknownTokenID=0 should be used instead of erroring")
	assert.Equal(t, []int32{0}, ids)
}

// TestEncodeRejectsInvalidUTF8 checks spec.md §9's Open-Question resolution:
// malformed UTF-8 fails with KindUnknownInput instead of being silently
// repaired.
func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	tk := newTestTokenizer(t)

	_, err := tk.Encode(string([]byte{0xff, 0xfe}))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUnknownInput))
}

// TestDecodeRejectsOutOfRangeID checks spec.md §7's IdOutOfRange kind.
func TestDecodeRejectsOutOfRangeID(t *testing.T) {
	tk := newTestTokenizer(t)

	_, err := tk.Decode([]int32{-1})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIDOutOfRange))

	_, err = tk.Decode([]int32{int32(tk.VocabSize()) + 1000})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIDOutOfRange))
}

// TestNewRejectsMissingVocabFile checks the IoError kind on a vocab path
// that cannot be opened.
func TestNewRejectsMissingVocabFile(t *testing.T) {
	_, err := New(Config{VocabPath: filepath.Join(t.TempDir(), "does-not-exist.txt")})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindIO))
}

// TestNewRejectsMalformedVocabFile checks the InvalidFormat kind.
func TestNewRejectsMalformedVocabFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0o644))

	_, err := New(Config{VocabPath: path})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidFormat))
}

// TestBatchEncodeMatchesSequentialConcatenation checks spec.md §4.6's
// contract against this package's real Encode, not a fake.
func TestBatchEncodeMatchesSequentialConcatenation(t *testing.T) {
	tk := newTestTokenizer(t)
	docs := []string{" hello", "zq", " hello"}

	var want []int32
	for _, d := range docs {
		ids, err := tk.Encode(d)
		require.NoError(t, err)
		want = append(want, ids...)
	}

	got, err := tk.BatchEncode(docs, 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestProcessDefaultConvenienceLayer exercises Initialize/Encode/Decode
// against the package-level default session.
func TestProcessDefaultConvenienceLayer(t *testing.T) {
	_, err := Encode("should fail before Initialize")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotInitialized))

	require.NoError(t, Initialize(Config{
		VocabPath:     buildTestVocabFile(t),
		IsByteEncoder: true,
	}))
	defer func() { require.NoError(t, Initialize(Config{VocabPath: buildTestVocabFile(t), IsByteEncoder: true})) }()

	ids, err := Encode("zq")
	require.NoError(t, err)
	text, err := Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "zq", text)
}
