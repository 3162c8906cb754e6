// Package batch implements the bounded worker pool shared by BatchEncode and
// BatchDecode: the documents are split up front into at most numThreads
// contiguous index ranges, one goroutine per range; each produces its slice
// of the result independently (a read-only borrow of the session, no
// cross-worker synchronization), and the per-worker outputs are concatenated
// back in input order once every worker has finished. There is no shared
// work queue: a range is never handed to another worker, even when that
// worker finishes early.
//
// Grounded on 7blacky7-ollama-reverse/x/imagegen/tokenizer/encode.go's
// parallel-encode path, which splits one large input into
// runtime.GOMAXPROCS(0)-sized chunks, fans a goroutine per chunk into a
// results slice indexed by chunk position, and waits on a sync.WaitGroup
// before concatenating. This package generalizes that from "one input, N
// chunks" to "N independent documents, numThreads workers", and makes the
// worker count caller-supplied instead of always runtime.GOMAXPROCS(0).
package batch

import "sync"

// EncodeFunc produces the tokens for a single document.
type EncodeFunc func(doc string) ([]int32, error)

// DecodeFunc produces the text for a single id batch.
type DecodeFunc func(ids []int32) (string, error)

// Encode runs fn over docs using up to numThreads concurrent workers and
// returns the flattened, input-order-preserving concatenation of their
// results, per spec.md §4.6: "batch_encode(docs[], num_threads) returns a
// flat token stream equal to concat(encode(d) for d in docs)".
func Encode(docs []string, numThreads int, fn EncodeFunc) ([]int32, error) {
	results, err := run(len(docs), numThreads, func(i int) ([]int32, error) {
		return fn(docs[i])
	})
	if err != nil {
		return nil, err
	}
	var out []int32
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// Decode runs fn over batches using up to numThreads concurrent workers and
// concatenates the per-batch text in input order, the decode-direction
// counterpart of Encode.
func Decode(batches [][]int32, numThreads int, fn DecodeFunc) (string, error) {
	results, err := run(len(batches), numThreads, func(i int) ([]byte, error) {
		s, err := fn(batches[i])
		return []byte(s), err
	})
	if err != nil {
		return "", err
	}
	var sb []byte
	for _, r := range results {
		sb = append(sb, r...)
	}
	return string(sb), nil
}

// run partitions [0, n) into contiguous ranges across workers, mirroring the
// teacher's chunksPer split, and collects each worker's results into a
// slice indexed by worker rank so the final concatenation preserves input
// order without further sorting.
func run[T any](n, numThreads int, work func(i int) (T, error)) ([]T, error) {
	if n == 0 {
		return nil, nil
	}
	if numThreads < 1 {
		numThreads = 1
	}
	if numThreads > n {
		numThreads = n
	}

	chunksPer := (n + numThreads - 1) / numThreads
	workerResults := make([][]T, numThreads)
	workerErrs := make([]error, numThreads)
	var wg sync.WaitGroup

	for w := 0; w < numThreads; w++ {
		start := w * chunksPer
		end := start + chunksPer
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			local := make([]T, 0, end-start)
			for i := start; i < end; i++ {
				v, err := work(i)
				if err != nil {
					workerErrs[w] = err
					return
				}
				local = append(local, v)
			}
			workerResults[w] = local
		}(w, start, end)
	}
	wg.Wait()

	for _, err := range workerErrs {
		if err != nil {
			return nil, err
		}
	}

	out := make([]T, 0, n)
	for _, r := range workerResults {
		out = append(out, r...)
	}
	return out, nil
}
