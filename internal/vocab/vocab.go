// Package vocab implements the on-disk vocabulary format and the in-memory
// store it loads into: a dense id-indexed array of token byte-spans, an
// inverse (bytes -> id) index, and the on-demand merge-rank lookup the BPE
// engine consumes.
//
// Grounded on tokenizers/hftokenizer/hftokenizer.go's vocab/merge-rank
// construction (teacher) and on the mmap-backed, offset-addressed tensor
// readers in models/safetensor/reader.go and models/safetensors/safetensors.go
// (teacher) — there used to slice tensor weights out of a mapped file
// without copying. Here the vocabulary file may be memory-mapped for
// reading, but the token bytes are hex-decoded into one owned contiguous
// blob that every span indexes, per spec.md §5's "single contiguous blob"
// memory model; spans never point into the mapped file.
package vocab

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// span is an (offset, length) slice into the backing blob. Copying a span is
// copying two ints, never the bytes themselves.
type span struct {
	offset int
	length int
}

// Store is the loaded, immutable vocabulary: Vocabulary from spec.md §3.
type Store struct {
	blob []byte    // owned buffer of hex-decoded token bytes
	m    mmap.MMap // the mapped vocab file, if Load mapped it; unmapped by Close

	spans   []span           // id -> span into blob
	reverse map[string]int32 // token bytes -> id

	// byLength buckets reverse by byte length, longest-first, for
	// LongestPrefixToken — the "sorted-by-length bucket hash" option
	// spec.md §3 explicitly allows as an alternative to a trie.
	byLength    map[int]map[string]int32
	lengths     []int // descending, deduplicated
	maxTokenLen int

	byteToID [256]int32 // raw byte -> single-byte token id, spec.md §3 invariant
}

// Close releases the mapped vocabulary file, if one was mapped.
func (s *Store) Close() error {
	if s.m != nil {
		return s.m.Unmap()
	}
	return nil
}

// VocabSize returns V, the number of token ids in [0, V).
func (s *Store) VocabSize() int {
	return len(s.spans)
}

// BytesOf returns the byte sequence for id, per spec.md §4.1.
func (s *Store) BytesOf(id int32) ([]byte, bool) {
	if id < 0 || int(id) >= len(s.spans) {
		return nil, false
	}
	sp := s.spans[id]
	return s.blob[sp.offset : sp.offset+sp.length], true
}

// IDOf returns the id for an exact byte sequence, per spec.md §4.1.
func (s *Store) IDOf(b []byte) (int32, bool) {
	id, ok := s.reverse[string(b)]
	return id, ok
}

// ByteTokenID returns the single-byte token id seeded for raw byte b, the
// spec.md §3 invariant that "every byte value 0..255 is reachable as a
// 1-byte token".
func (s *Store) ByteTokenID(b byte) int32 {
	return s.byteToID[b]
}

// MergeRank returns the rank of merging token a followed by token b, and the
// merged token's id, per spec.md §3's Merge table definition. ok is false
// when a∘b is not a vocabulary entry (rank is +∞).
//
// Computed on demand — concatenate bytes(a)+bytes(b) and probe reverse —
// rather than precomputed over every id pair at load time: the BPE engine
// only ever queries the O(tokens-in-a-pretoken) adjacent pairs that actually
// arise during a merge, a vanishingly small fraction of the V² pairs a
// precomputed table would have to cover for a real vocabulary.
func (s *Store) MergeRank(a, b int32) (mergedID int32, ok bool) {
	aBytes, ok := s.BytesOf(a)
	if !ok {
		return 0, false
	}
	bBytes, ok := s.BytesOf(b)
	if !ok {
		return 0, false
	}
	merged := make([]byte, 0, len(aBytes)+len(bBytes))
	merged = append(merged, aBytes...)
	merged = append(merged, bBytes...)
	mergedID, ok = s.reverse[string(merged)]
	return mergedID, ok
}

// LongestPrefixToken returns the id and byte-length of the longest
// vocabulary entry that is a prefix of buf, per spec.md §4.1.
func (s *Store) LongestPrefixToken(buf []byte) (id int32, length int, ok bool) {
	max := s.maxTokenLen
	if max > len(buf) {
		max = len(buf)
	}
	for l := max; l >= 1; l-- {
		bucket, exists := s.byLength[l]
		if !exists {
			continue
		}
		if id, ok := bucket[string(buf[:l])]; ok {
			return id, l, true
		}
	}
	return 0, 0, false
}

// LoadOptions configure Load.
type LoadOptions struct {
	// MmapThreshold is the file size above which the vocab file is
	// memory-mapped instead of read into an owned []byte. Small vocabularies
	// (tests, toy fixtures) skip the mmap machinery entirely.
	MmapThreshold int64
	// LockTimeout bounds how long Load waits on the advisory file lock
	// before proceeding anyway (see lockAndStat).
	LockTimeout time.Duration
}

// DefaultLoadOptions matches production sizing: GPT-2-family vocabularies
// (tens of MB) are always mapped.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{MmapThreshold: 1 << 16, LockTimeout: 2 * time.Second}
}

// Load parses the vocabulary file at path per spec.md §4.1/§6's grammar:
// `0xHH0xHH...0xHH == <id>` one entry per line, sorted by id (expected, not
// required).
func Load(path string, opts LoadOptions) (*Store, error) {
	unlock, err := lockAndStat(path, opts.LockTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "locking vocab file %q", path)
	}
	defer unlock()

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat vocab file %q", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening vocab file %q", path)
	}
	defer f.Close()

	var blob []byte
	var mapped mmap.MMap
	if info.Size() >= opts.MmapThreshold && info.Size() > 0 {
		mapped, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "memory-mapping vocab file %q", path)
		}
		blob = mapped
	} else {
		blob, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading vocab file %q", path)
		}
	}

	store, err := parse(blob)
	if err != nil {
		if mapped != nil {
			_ = mapped.Unmap()
		}
		return nil, err
	}
	store.m = mapped

	klog.V(1).Infof("gotoken: loaded vocabulary %q: %d tokens", path, store.VocabSize())
	return store, nil
}

// LoadFromBytes parses vocabulary content already in memory (tests, or a
// shim that downloaded the file into a buffer). The returned Store keeps its
// own buffer of decoded token bytes and holds no reference to content.
func LoadFromBytes(content []byte) (*Store, error) {
	return parse(content)
}

// parse builds spans/reverse/byLength/byteToID from vocab-file bytes, per
// spec.md §4.1. The decoded token bytes of every line are concatenated into
// a single owned buffer (rebuilt) that Store.blob then indexes by span,
// mirroring the contiguous-blob layout Load gives a mapped file. Merge
// ranks are not precomputed here — see MergeRank.
func parse(blob []byte) (*Store, error) {
	lines := splitLines(blob)

	type entry struct {
		id   int32
		b    span
		line int
	}
	var entries []entry
	var rebuilt []byte
	maxID := int32(-1)

	for i, lineBytes := range lines {
		line := strings.TrimRight(string(lineBytes), "\r")

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		const sep = " == "
		idx := strings.LastIndex(line, sep)
		if idx < 0 {
			return nil, errors.Wrapf(errInvalidFormat, "line %d: %q", i+1, line)
		}
		hexPart, idPart := line[:idx], line[idx+len(sep):]

		id64, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(errInvalidFormat, "line %d: invalid id %q", i+1, idPart)
		}
		id := int32(id64)
		if id < 0 {
			return nil, errors.Wrapf(errInvalidFormat, "line %d: negative id %d", i+1, id)
		}

		tokLen, err := validateHexRun(hexPart)
		if err != nil {
			return nil, errors.Wrapf(errInvalidFormat, "line %d: %v", i+1, err)
		}

		decoded := make([]byte, tokLen)
		for j := 0; j < tokLen; j++ {
			hv, _ := strconv.ParseUint(hexPart[j*4+2:j*4+4], 16, 8)
			decoded[j] = byte(hv)
		}

		entries = append(entries, entry{id: id, b: span{offset: len(rebuilt), length: len(decoded)}, line: i + 1})
		rebuilt = append(rebuilt, decoded...)

		if id > maxID {
			maxID = id
		}
	}

	if len(entries) == 0 {
		return nil, errEmptyVocab
	}

	store := &Store{
		blob:     rebuilt,
		spans:    make([]span, maxID+1),
		reverse:  make(map[string]int32, len(entries)),
		byLength: make(map[int]map[string]int32),
	}
	for i := range store.byteToID {
		store.byteToID[i] = -1
	}

	filled := make([]bool, maxID+1)
	for _, e := range entries {
		if filled[e.id] {
			return nil, errors.Wrapf(errInvalidFormat, "duplicate id %d (line %d)", e.id, e.line)
		}
		filled[e.id] = true
		store.spans[e.id] = e.b

		tokBytes := store.blob[e.b.offset : e.b.offset+e.b.length]
		key := string(tokBytes)
		if _, dup := store.reverse[key]; dup {
			return nil, errors.Wrapf(errInvalidFormat, "duplicate token bytes for id %d (line %d)", e.id, e.line)
		}
		store.reverse[key] = e.id

		if e.b.length == 1 {
			store.byteToID[tokBytes[0]] = e.id
		}

		bucket := store.byLength[e.b.length]
		if bucket == nil {
			bucket = make(map[string]int32)
			store.byLength[e.b.length] = bucket
		}
		bucket[key] = e.id
		if e.b.length > store.maxTokenLen {
			store.maxTokenLen = e.b.length
		}
	}

	for l := range store.byLength {
		store.lengths = append(store.lengths, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(store.lengths)))

	return store, nil
}

func splitLines(blob []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i < len(blob); i++ {
		if blob[i] == '\n' {
			lines = append(lines, blob[start:i])
			start = i + 1
		}
	}
	if start < len(blob) {
		lines = append(lines, blob[start:])
	}
	return lines
}

// validateHexRun checks that s matches `(0x[0-9A-F]{2})+` and returns the
// number of decoded bytes.
func validateHexRun(s string) (int, error) {
	if len(s) == 0 || len(s)%4 != 0 {
		return 0, errors.Errorf("malformed hex token %q", s)
	}
	n := len(s) / 4
	for i := 0; i < n; i++ {
		chunk := s[i*4 : i*4+4]
		if chunk[0] != '0' || chunk[1] != 'x' {
			return 0, errors.Errorf("malformed hex token %q", s)
		}
		for _, c := range chunk[2:] {
			if !isUpperHex(c) {
				return 0, errors.Errorf("malformed hex token %q", s)
			}
		}
	}
	return n, nil
}

func isUpperHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}

// lockAndStat acquires a short-lived advisory lock on path+".lock" before
// Load reads the vocab file, so a concurrent writer (e.g. the out-of-scope
// upstream shim materializing a freshly downloaded vocabulary, per spec.md
// §9) cannot be read mid-write. Adapted from the teacher's
// hub/download.go:execOnFileLock, which holds the same lock across a
// download instead of a read.
func lockAndStat(path string, timeout time.Duration) (unlock func(), err error) {
	lockPath := path + ".lock"
	fl := flock.New(lockPath)

	deadline := time.Now().Add(timeout)
	for {
		locked, err := fl.TryRLock()
		if err != nil {
			return func() {}, nil // best-effort: proceed unlocked rather than fail Load outright
		}
		if locked {
			return func() { _ = fl.Unlock() }, nil
		}
		if time.Now().After(deadline) {
			return func() {}, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
}

var (
	errInvalidFormat = errors.New("Invalid format in vocab file.")
	errEmptyVocab    = errors.New("Vocab file is empty or contains no valid entries.")
)

// ErrInvalidFormat reports whether err originates from a malformed vocab
// line, per spec.md §7's InvalidFormat kind.
func ErrInvalidFormat(err error) bool {
	return errors.Is(err, errInvalidFormat)
}

// ErrEmptyVocab reports whether err is the empty-vocab-file error.
func ErrEmptyVocab(err error) bool {
	return errors.Is(err, errEmptyVocab)
}
