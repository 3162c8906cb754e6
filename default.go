package gotoken

import (
	"sync"

	"github.com/pkg/errors"
)

// defaultTokenizer backs the process-default convenience layer, parity with
// the upstream hutoken module's plain module-level initialize/encode/decode
// functions (see original_source/hutoken.py). New callers should prefer New
// and the *Tokenizer methods directly; this layer exists only so code
// written against that single-global-session style still has a home here.
var (
	defaultMu sync.RWMutex
	defaultTk *Tokenizer
)

// Initialize installs cfg as the process-default session, per spec.md §4.7:
// a later call fully replaces the prior session once it returns
// successfully; a failing call leaves the previous session (if any) intact.
func Initialize(cfg Config) error {
	tk, err := New(cfg)
	if err != nil {
		return err
	}

	defaultMu.Lock()
	prev := defaultTk
	defaultTk = tk
	defaultMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func currentDefault() (*Tokenizer, error) {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	if defaultTk == nil {
		return nil, newError(KindNotInitialized, errors.New("Vocabulary is not initialized; call Initialize first."))
	}
	return defaultTk, nil
}

// Encode tokenizes text against the process-default session.
func Encode(text string) ([]int32, error) {
	tk, err := currentDefault()
	if err != nil {
		return nil, err
	}
	return tk.Encode(text)
}

// Decode reconstructs text against the process-default session.
func Decode(ids []int32) (string, error) {
	tk, err := currentDefault()
	if err != nil {
		return "", err
	}
	return tk.Decode(ids)
}

// BatchEncode tokenizes docs against the process-default session.
func BatchEncode(docs []string, numThreads int) ([]int32, error) {
	tk, err := currentDefault()
	if err != nil {
		return nil, err
	}
	return tk.BatchEncode(docs, numThreads)
}

// BatchDecode reconstructs text for batches against the process-default
// session.
func BatchDecode(batches [][]int32, numThreads int) (string, error) {
	tk, err := currentDefault()
	if err != nil {
		return "", err
	}
	return tk.BatchDecode(batches, numThreads)
}
