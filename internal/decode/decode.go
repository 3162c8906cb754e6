// Package decode implements the token-id -> text direction of spec.md §4.5:
// bounds-checking every id, concatenating the vocabulary bytes they name,
// then inverting the byte-level alphabet when byte-encoder mode is active.
//
// In byte-encoder mode the configured prefix sentinel is never stripped
// here: it is simply the ordinary byte-alphabet encoding of a real space
// character that was already present in the source text (see bytelevel's
// construction), so removing it on decode would violate spec.md §8's
// invariant 1, decode(encode(t)) == t, for any t that genuinely begins with
// whitespace. Stripping only applies in non-byte-encoder mode, where a
// prefix glyph (e.g. a SentencePiece-style "▁") is a synthetic marker
// distinct from any raw source character rather than an encoding of one.
package decode

import (
	"unicode/utf8"

	"github.com/gomlx/gotoken/internal/bytelevel"
	"github.com/pkg/errors"
)

// ErrIDOutOfRange is returned, wrapped, when a token id falls outside
// [0, vocabSize). Its message is pinned to spec.md §7's exact wording so
// callers relying on substring matching during the transition from the
// upstream shim keep working.
var ErrIDOutOfRange = errors.New("Element must be non-negative and less than vocab size.")

// store is the subset of *vocab.Store Decode needs.
type store interface {
	VocabSize() int
	BytesOf(id int32) ([]byte, bool)
}

// Options configures a single Decode call.
type Options struct {
	IsByteEncoder bool
	// PrefixSentinel is the rune prepended to word-initial pretokens during
	// encode (see bytelevel's override table and spec.md §4.2); if nonzero
	// and IsByteEncoder is false, a leading occurrence is stripped from the
	// reconstructed text. In byte-encoder mode it is never stripped (see the
	// package doc).
	PrefixSentinel rune
	Table          *bytelevel.Table // required when IsByteEncoder is true
}

// Decode reconstructs the text named by ids, per spec.md §4.5.
func Decode(s store, ids []int32, opts Options) (string, error) {
	vocabSize := int32(s.VocabSize())

	var encoded []byte
	for _, id := range ids {
		if id < 0 || id >= vocabSize {
			return "", errors.Wrap(ErrIDOutOfRange, "decode")
		}
		b, ok := s.BytesOf(id)
		if !ok {
			return "", errors.Wrap(ErrIDOutOfRange, "decode")
		}
		encoded = append(encoded, b...)
	}

	var raw []byte
	if opts.IsByteEncoder {
		raw = opts.Table.DecodeString(string(encoded))
	} else {
		raw = encoded
	}

	if opts.PrefixSentinel != 0 && !opts.IsByteEncoder {
		sentinelBytes := string(opts.PrefixSentinel)
		if len(raw) >= len(sentinelBytes) && string(raw[:len(sentinelBytes)]) == sentinelBytes {
			raw = raw[len(sentinelBytes):]
		}
	}

	if !utf8.Valid(raw) {
		return "", errors.New("decoded byte sequence is not valid UTF-8")
	}
	return string(raw), nil
}
