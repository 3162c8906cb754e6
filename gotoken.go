// Package gotoken is a byte-pair-encoding tokenizer compatible with GPT-2
// family vocabularies: a vocabulary loader, byte-level alphabet, pretokenizer,
// BPE merge engine, decoder, and a bounded-worker-pool batch driver.
//
// A Tokenizer is built once via New and is safe for concurrent Encode/Decode
// calls from many goroutines; the process-default convenience functions
// (Initialize/Encode/Decode/BatchEncode/BatchDecode) exist for parity with
// the upstream module's plain function API and are not required — most
// callers should prefer New and the *Tokenizer methods directly.
//
// XDG_CACHE_HOME is not read anywhere in this package: Config.VocabPath is
// always a file path, never a model name to resolve against a cache or hub.
// Resolving a model name into a vocabulary file (and writing it out in this
// package's vocab-file grammar) is the job of an external, out-of-scope
// shim layer.
package gotoken

import (
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/gotoken/internal/batch"
	"github.com/gomlx/gotoken/internal/bpe"
	"github.com/gomlx/gotoken/internal/bytelevel"
	"github.com/gomlx/gotoken/internal/decode"
	"github.com/gomlx/gotoken/internal/pretok"
	"github.com/gomlx/gotoken/internal/vocab"
)

// scanThreshold is the pretoken length (in seed tokens) at or below which the
// BPE merge engine uses the simple O(L^2) scan instead of the heap-driven
// merge; see bpe.Merge. Pretokens produced by the GPT-2
// pretokenizer are almost always short English words or punctuation runs,
// so this threshold is rarely crossed in practice.
const scanThreshold = 24

// Config configures a Tokenizer, the concrete realization of spec.md §6's
// initialize(...) parameters.
type Config struct {
	// VocabPath is the vocabulary file, in the `0xHH... == <id>` grammar of
	// spec.md §6. Always a file path, never a model name.
	VocabPath string
	// SpecialCharsPath optionally overrides the byte-level alphabet for a
	// subset of bytes, in the `<decimal-byte> == <replacement>` grammar.
	SpecialCharsPath string
	// Prefix, if non-empty, fixes the word-initial prefix sentinel instead
	// of auto-detecting it per spec.md §4.2's "hu" probe.
	Prefix string
	// IsByteEncoder selects whether encode/decode route text through the
	// byte-level alphabet (GPT-2 style) or treat vocabulary entries as raw
	// UTF-8 token bytes directly.
	IsByteEncoder bool
	// UnknownTokenID, when non-nil, is emitted instead of failing when a
	// pretoken's byte-encoded form cannot be fully covered by the vocabulary
	// (spec.md treats this as impossible once the base byte alphabet is
	// installed, but a vocabulary missing single-byte tokens can still hit
	// it). nil means "none configured" — fail instead. A pointer, not a
	// sentinel int, because 0 is itself a legitimate vocabulary id a caller
	// may want to fall back to.
	UnknownTokenID *int32
}

// Tokenizer is an initialized session: spec.md §3's Session entity. The zero
// value is not usable; construct with New.
type Tokenizer struct {
	mu sync.RWMutex // read-held by Encode/Decode/VocabSize, write-held by Close

	store     *vocab.Store
	table     *bytelevel.Table
	pre       *pretok.Tokenizer
	cfg       Config
	prefix    rune // 0 means disabled
	sessionID uuid.UUID
}

// New builds a Tokenizer from cfg, per spec.md §4.7's initialize contract:
// any error aborts wholly, leaving no partial Tokenizer.
func New(cfg Config) (*Tokenizer, error) {
	store, err := vocab.Load(cfg.VocabPath, vocab.DefaultLoadOptions())
	if err != nil {
		return nil, newError(classifyVocabErr(err), errors.Wrap(err, "loading vocabulary"))
	}

	table := bytelevel.NewStandard()
	if cfg.SpecialCharsPath != "" {
		if err := table.LoadOverrides(cfg.SpecialCharsPath); err != nil {
			store.Close()
			return nil, newError(KindIO, errors.Wrap(err, "loading special-chars overrides"))
		}
	}

	pre, err := pretok.New()
	if err != nil {
		store.Close()
		return nil, newError(KindInvalidFormat, errors.Wrap(err, "compiling pretokenizer"))
	}

	t := &Tokenizer{store: store, table: table, pre: pre, cfg: cfg, sessionID: uuid.New()}

	if cfg.Prefix != "" {
		r, _ := firstRune(cfg.Prefix)
		t.prefix = r
	} else {
		t.prefix = detectPrefixSentinel(store, table, cfg.IsByteEncoder)
	}

	klog.V(1).Infof("gotoken[%s]: initialized vocabSize=%d isByteEncoder=%v prefixSentinel=%q",
		t.sessionID, store.VocabSize(), cfg.IsByteEncoder, t.prefix)

	return t, nil
}

// SessionID identifies this Tokenizer instance for log correlation across
// Initialize/Close and concurrent BatchEncode/BatchDecode calls; it has no
// bearing on tokenization semantics.
func (t *Tokenizer) SessionID() string {
	return t.sessionID.String()
}

func firstRune(s string) (rune, int) {
	r, size := utf8.DecodeRuneInString(s)
	return r, size
}

// detectPrefixSentinel implements spec.md §4.2's auto-detection: the probe
// word "hu" is tokenized as it would appear word-initially (preceded by
// whitespace, since a bare "hu" with no whitespace context could never
// surface a prefix marker). If the first returned token does not begin with
// 'h' (compared after inverting the byte alphabet in byte-encoder mode), the
// sentinel is table.Encode(' '), the byte-alphabet glyph for a space; the
// token's own first codepoint is not used. In byte-encoder mode the two are
// the same whenever that token begins with a space byte.
func detectPrefixSentinel(store *vocab.Store, table *bytelevel.Table, isByteEncoder bool) rune {
	probe := " hu"
	ids, err := encodePretoken(store, table, probe, isByteEncoder, nil)
	if err != nil || len(ids) == 0 {
		return 0
	}
	b, ok := store.BytesOf(ids[0])
	if !ok || len(b) == 0 {
		return 0
	}
	var firstByte byte
	if isByteEncoder {
		decoded := table.DecodeString(string(b))
		if len(decoded) == 0 {
			return 0
		}
		firstByte = decoded[0]
	} else {
		firstByte = b[0]
	}
	if firstByte == 'h' {
		return 0
	}
	return table.Encode(' ')
}

func classifyVocabErr(err error) Kind {
	if vocab.ErrInvalidFormat(err) || vocab.ErrEmptyVocab(err) {
		return KindInvalidFormat
	}
	return KindIO
}

// encodePretoken runs the fast-path vocabulary lookup and, failing that, the
// BPE merge engine over a single pretoken, per spec.md §4.4. unknownID, when
// non-nil, is appended in place of failing when a codepoint has no
// single-token seed; nil means fail with an error instead (spec.md's
// default).
func encodePretoken(store *vocab.Store, table *bytelevel.Table, pretokenText string, isByteEncoder bool, unknownID *int32) ([]int32, error) {
	encoded := pretokenText
	if isByteEncoder {
		encoded = table.EncodeString(pretokenText)
	}

	if id, ok := store.IDOf([]byte(encoded)); ok {
		return []int32{id}, nil
	}

	runes := []rune(encoded)
	seed := make([]int32, 0, len(runes))
	for _, r := range runes {
		id, ok := store.IDOf([]byte(string(r)))
		if !ok {
			if unknownID != nil {
				seed = append(seed, *unknownID)
				continue
			}
			return nil, errUnknownInput
		}
		seed = append(seed, id)
	}

	return bpe.Merge(store, seed, scanThreshold), nil
}

var errUnknownInput = errors.New("a pretoken byte could not be mapped to any vocabulary token")

// Encode tokenizes text, per spec.md §4.3/§4.4: pretokenize, then BPE-merge
// each pretoken independently, concatenating the results in order.
func (t *Tokenizer) Encode(text string) ([]int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !utf8.ValidString(text) {
		return nil, newError(KindUnknownInput, errors.New("input is not valid UTF-8"))
	}
	if text == "" {
		return nil, nil
	}

	pretokens, err := t.pre.Split(text)
	if err != nil {
		return nil, newError(KindUnknownInput, errors.Wrap(err, "pretokenizing"))
	}

	var ids []int32
	for _, p := range pretokens {
		chunk, err := encodePretoken(t.store, t.table, p, t.cfg.IsByteEncoder, t.cfg.UnknownTokenID)
		if err != nil {
			return nil, newError(KindUnknownInput, errors.Wrapf(err, "encoding pretoken %q", p))
		}
		ids = append(ids, chunk...)
	}
	return ids, nil
}

// Decode reconstructs text from ids, per spec.md §4.5.
func (t *Tokenizer) Decode(ids []int32) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	text, err := decode.Decode(t.store, ids, decode.Options{
		IsByteEncoder:  t.cfg.IsByteEncoder,
		PrefixSentinel: t.prefix,
		Table:          t.table,
	})
	if err != nil {
		if errors.Is(err, decode.ErrIDOutOfRange) {
			return "", newError(KindIDOutOfRange, err)
		}
		return "", newError(KindUnknownInput, err)
	}
	return text, nil
}

// BatchEncode tokenizes docs across numThreads workers, per spec.md §4.6.
func (t *Tokenizer) BatchEncode(docs []string, numThreads int) ([]int32, error) {
	out, err := batch.Encode(docs, numThreads, t.Encode)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BatchDecode reconstructs text for each id batch across numThreads workers,
// concatenated in input order, per spec.md §4.6.
func (t *Tokenizer) BatchDecode(batches [][]int32, numThreads int) (string, error) {
	return batch.Decode(batches, numThreads, t.Decode)
}

// VocabSize returns the number of ids in [0, VocabSize()).
func (t *Tokenizer) VocabSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.store.VocabSize()
}

// Close unmaps the vocabulary file, if Load memory-mapped it. A Tokenizer
// must not be used after Close.
func (t *Tokenizer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	klog.V(1).Infof("gotoken[%s]: closing", t.sessionID)
	return t.store.Close()
}
