// Package pretok implements the GPT-2-style pretokenizer: splitting input
// text into an ordered run of pretokens along contractions, letter runs,
// digit runs, punctuation runs, and whitespace runs, with leading-space
// absorption for the first four alternatives.
//
// Go's stdlib regexp is RE2-based and cannot express the trailing-whitespace
// alternative's negative lookahead, `\s+(?!\S)`. ollama's
// x/imagegen/tokenizer package works around the same limitation by dropping
// the lookahead and fixing up match boundaries procedurally afterwards
// (rewritePatternForRE2). This package instead compiles the pattern verbatim
// against github.com/dlclark/regexp2, which supports .NET-style lookahead,
// so there is no boundary-fixup code to keep in sync with the grammar.
package pretok

import (
	"github.com/dlclark/regexp2"
	"github.com/pkg/errors"
)

// pattern is GPT-2's pretokenizer regex, alternatives tried left-to-right at
// each cursor position exactly as ordered here.
const pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// Tokenizer splits text into pretokens per the compiled pattern.
type Tokenizer struct {
	re *regexp2.Regexp
}

// New compiles the pretokenizer pattern. Compilation can only fail if the
// pattern itself is malformed, which is a programming error, not a runtime
// one — callers do not need to plan for this failing in production, but the
// error is still surfaced rather than panicking, matching the teacher's
// preference for returned errors over panics in hftokenizer.go.
func New() (*Tokenizer, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, errors.Wrap(err, "compiling pretokenizer pattern")
	}
	re.MatchTimeout = 0
	return &Tokenizer{re: re}, nil
}

// Split returns the ordered pretokens of text, per spec.md §4.3's contract:
// concatenation of the returned slice (after space absorption, already
// folded into each pretoken) reproduces text exactly, with no reordering and
// no dropped input.
func (t *Tokenizer) Split(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	var out []string
	// regexp2 reports Match.Index and Match.Length in runes, not bytes, so
	// the cursor and any gap slices are taken over runes.
	runes := []rune(text)
	pos := 0
	m, err := t.re.FindStringMatch(text)
	if err != nil {
		return nil, errors.Wrap(err, "matching pretokenizer pattern")
	}
	for m != nil {
		start := m.Index
		if start != pos {
			// The grammar's alternatives are asserted to cover every
			// character of a well-formed UTF-8 string; a gap means a
			// character fell between alternatives (e.g. a lone control byte
			// not covered by \s, \p{L}, \p{N}, or punctuation in this
			// build's Unicode tables). Emit it verbatim as its own
			// pretoken so concatenation still reproduces the input exactly.
			out = append(out, string(runes[pos:start]))
		}
		out = append(out, m.String())
		pos = start + m.Length

		next, err := t.re.FindNextMatch(m)
		if err != nil {
			return nil, errors.Wrap(err, "matching pretokenizer pattern")
		}
		m = next
	}
	if pos < len(runes) {
		out = append(out, string(runes[pos:]))
	}
	return out, nil
}
