// Package bytelevel implements the GPT-2 byte-to-unicode bijection and its
// file-driven special-character overrides.
//
// The mapping sends every raw byte to a single printable code point so that
// any byte sequence can be represented as a string the BPE merge engine can
// treat as ordinary text. It is grounded on the identical construction found
// independently in tokenizers/hftokenizer/hftokenizer.go's init() (teacher),
// x/imagegen/tokenizer/decode.go (ollama) and wtf/tokenizer.go
// (ariannamethod-WTForacle) in the example pack — three independent
// from-scratch implementations of the same GPT-2 table.
package bytelevel

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Table is a byte<->rune bijection, optionally overridden per entry by a
// special-characters file.
type Table struct {
	encode [256]rune
	decode map[rune]byte
	// overrideStrings holds the replacement string of every overridden byte.
	// EncodeString writes it whole when it is longer than one rune (e.g. a
	// multi-character glyph sequence); single-rune replacements are also
	// installed in encode/decode. overrideRev maps each replacement back to
	// its byte for DecodeString.
	overrideStrings map[byte]string
	overrideRev     map[string]byte
	// overrideSorted holds overrideRev's keys ordered longest-first (ties
	// broken by string value for determinism), so DecodeString always
	// prefers the longest matching override instead of depending on Go's
	// randomized map iteration order — the same longest-match-first
	// requirement vocab.Store's byLength/lengths pair solves for vocabulary
	// entries.
	overrideSorted []string
}

// NewStandard builds the canonical GPT-2 byte-to-unicode table described in
// spec.md §4.2: printable ASCII and Latin-1 supplement map to themselves,
// the remaining 68 bytes map in ascending order to U+0100.. (256..323).
func NewStandard() *Table {
	t := &Table{decode: make(map[rune]byte, 256)}

	printable := make(map[int]bool, 188)
	var bs []int
	for b := '!'; b <= '~'; b++ {
		bs = append(bs, int(b))
	}
	for b := 0xA1; b <= 0xAC; b++ {
		bs = append(bs, b)
	}
	for b := 0xAE; b <= 0xFF; b++ {
		bs = append(bs, b)
	}
	for _, b := range bs {
		printable[b] = true
	}

	for _, b := range bs {
		t.encode[b] = rune(b)
		t.decode[rune(b)] = byte(b)
	}

	n := 0
	for b := 0; b < 256; b++ {
		if !printable[b] {
			r := rune(256 + n)
			t.encode[b] = r
			t.decode[r] = byte(b)
			n++
		}
	}

	return t
}

// LoadOverrides parses a special-characters file (spec.md §6 grammar:
// `<decimal-codepoint> == <replacement-string>`, one entry per line) and
// installs the replacements in place of the default mapping for both
// directions.
func (t *Table) LoadOverrides(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening special-chars file %q", path)
	}
	defer f.Close()

	if t.overrideStrings == nil {
		t.overrideStrings = make(map[byte]string)
		t.overrideRev = make(map[string]byte)
	}

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		const sep = " == "
		idx := strings.Index(line, sep)
		if idx < 0 {
			return errors.Errorf("invalid special-chars line %d: %q", lineNo, line)
		}
		lhs, rhs := line[:idx], line[idx+len(sep):]

		b, err := strconv.ParseUint(lhs, 10, 8)
		if err != nil {
			return errors.Wrapf(err, "invalid byte value on special-chars line %d: %q", lineNo, lhs)
		}
		if rhs == "" {
			return errors.Errorf("empty replacement on special-chars line %d", lineNo)
		}

		t.overrideStrings[byte(b)] = rhs
		t.overrideRev[rhs] = byte(b)

		// When the replacement is a single rune, it also participates in the
		// 1:1 encode/decode tables so the BPE merge engine (which works rune
		// by rune) sees a consistent mapping.
		runes := []rune(rhs)
		if len(runes) == 1 {
			t.encode[b] = runes[0]
			t.decode[runes[0]] = byte(b)
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrapf(err, "reading special-chars file %q", path)
	}

	t.overrideSorted = make([]string, 0, len(t.overrideRev))
	for repl := range t.overrideRev {
		t.overrideSorted = append(t.overrideSorted, repl)
	}
	sort.Slice(t.overrideSorted, func(i, j int) bool {
		li, lj := len([]rune(t.overrideSorted[i])), len([]rune(t.overrideSorted[j]))
		if li != lj {
			return li > lj
		}
		return t.overrideSorted[i] < t.overrideSorted[j]
	})

	return nil
}

// Encode returns the printable rune standing in for raw byte b.
func (t *Table) Encode(b byte) rune {
	return t.encode[b]
}

// EncodeString maps each raw byte of s into the printable byte-level
// alphabet, substituting multi-rune overrides where configured.
func (t *Table) EncodeString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for i := 0; i < len(s); i++ {
		b := s[i]
		if repl, ok := t.overrideStrings[b]; ok && len([]rune(repl)) != 1 {
			sb.WriteString(repl)
			continue
		}
		sb.WriteRune(t.encode[b])
	}
	return sb.String()
}

// DecodeRune returns the raw byte for a printable rune, if mapped.
func (t *Table) DecodeRune(r rune) (byte, bool) {
	b, ok := t.decode[r]
	return b, ok
}

// DecodeString inverts EncodeString: it walks s, preferring the longest
// matching multi-rune override, falling back to the 1:1 table.
func (t *Table) DecodeString(s string) []byte {
	out := make([]byte, 0, len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); {
		matched := false
		// overrideSorted is ordered longest-first, so the first match found
		// is always the longest one — deterministic, unlike ranging
		// overrideRev directly, whose map iteration order is randomized.
		for _, repl := range t.overrideSorted {
			rl := []rune(repl)
			if len(rl) <= len(runes)-i && string(runes[i:i+len(rl)]) == repl {
				out = append(out, t.overrideRev[repl])
				i += len(rl)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if b, ok := t.decode[runes[i]]; ok {
			out = append(out, b)
		} else {
			out = append(out, []byte(string(runes[i]))...)
		}
		i++
	}
	return out
}
