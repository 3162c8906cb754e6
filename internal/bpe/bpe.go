// Package bpe implements the byte-pair-encoding merge engine: given a
// byte-encoded pretoken (a string of printable code points standing in for
// raw bytes), repeatedly merge the lowest-rank adjacent pair until no ranked
// pair remains.
//
// The merge-selection loop is grounded directly on
// adiu19-bpetok-go/internal/tokenizer/tokenizer.go's EncodeOffline: a
// doubly-linked list of live slots (prev/next arrays), a container/heap
// priority queue of merge candidates ordered by (rank, leftmost position),
// and a per-slot liveVersion counter that lets a popped heap entry be
// recognized as stale (superseded by an earlier merge touching either of its
// two slots) and discarded instead of reprocessed. merge_rank itself comes
// from vocab.Store, which is this package's only dependency on vocabulary
// layout.
package bpe

import (
	"container/heap"
)

// ranker is the subset of *vocab.Store the merge engine needs: a pair-rank
// lookup. Seed tokens are resolved by the caller before Merge. It is a
// local interface (rather than taking *vocab.Store directly) so this
// package stays unit-testable without constructing a real vocabulary file.
type ranker interface {
	MergeRank(a, b int32) (mergedID int32, ok bool)
}

// Merge runs the algorithm of spec.md §4.4 over seed, the list of token ids
// for the single code points of a byte-encoded pretoken, in order. It
// returns the final merged sequence of token ids.
//
// scanThreshold bounds when Merge falls back to the simpler O(L^2) repeated
// scan instead of building the heap/linked-list machinery: spec.md §4.4
// permits either complexity class, and pretokens below the threshold do not
// amortize the heap's bookkeeping cost. Grounded on
// 7blacky7-ollama-reverse/x/imagegen/tokenizer/bpe.go's encodeBPEMerge,
// which always takes this simpler path.
func Merge(r ranker, seed []int32, scanThreshold int) []int32 {
	n := len(seed)
	if n <= 1 {
		return seed
	}
	if n <= scanThreshold {
		return mergeScan(r, seed)
	}
	return mergeHeapDriven(r, seed)
}

// mergeScan repeatedly finds the single lowest-rank adjacent pair and merges
// it, an O(L^2) restatement of spec.md §4.4 steps 3-5 with no auxiliary
// structures — adequate for the short pretokens the pretokenizer typically
// produces.
func mergeScan(r ranker, seed []int32) []int32 {
	tokens := append([]int32(nil), seed...)
	for {
		bestRank := int32(-1)
		bestPos := -1
		bestMerged := int32(-1)
		haveBest := false
		for i := 0; i < len(tokens)-1; i++ {
			merged, ok := r.MergeRank(tokens[i], tokens[i+1])
			if !ok {
				continue
			}
			if !haveBest || merged < bestRank {
				haveBest = true
				bestRank = merged
				bestPos = i
				bestMerged = merged
			}
		}
		if !haveBest {
			return tokens
		}
		next := make([]int32, 0, len(tokens)-1)
		next = append(next, tokens[:bestPos]...)
		next = append(next, bestMerged)
		next = append(next, tokens[bestPos+2:]...)
		tokens = next
	}
}

// mergeCandidate is one heap entry: a proposed merge of the pair occupying
// slots (pos, next[pos]) at the time it was pushed, tagged with the
// liveVersion each slot held then so a later pop can detect staleness.
type mergeCandidate struct {
	rank       int32 // lower wins
	pos        int   // left slot index; lower wins the tie-break
	leftToken  int32
	rightToken int32
	verL, verR int
}

type candidateHeap []mergeCandidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	return h[i].pos < h[j].pos
}
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)        { *h = append(*h, x.(mergeCandidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// mergeHeapDriven is the priority-queue variant of Merge for longer token
// sequences, where repeatedly rescanning every adjacent pair (mergeScan)
// would cost O(L) per merge instead of O(log L).
func mergeHeapDriven(r ranker, seed []int32) []int32 {
	n := len(seed)
	tokens := append([]int32(nil), seed...)

	prev := make([]int, n)
	next := make([]int, n)
	for i := range tokens {
		prev[i] = i - 1
		next[i] = i + 1
	}
	prev[0] = -1
	next[n-1] = -1

	liveVersion := make([]int, n)

	h := &candidateHeap{}
	heap.Init(h)

	pushIfMergeable := func(i int) {
		if i == -1 {
			return
		}
		j := next[i]
		if j == -1 {
			return
		}
		a, b := tokens[i], tokens[j]
		if rank, ok := r.MergeRank(a, b); ok {
			heap.Push(h, mergeCandidate{
				rank: rank, pos: i,
				leftToken: a, rightToken: b,
				verL: liveVersion[i], verR: liveVersion[j],
			})
		}
	}

	for i := 0; next[i] != -1; i = next[i] {
		pushIfMergeable(i)
	}

	head := 0
	for h.Len() > 0 {
		c := heap.Pop(h).(mergeCandidate)
		i := c.pos
		j := next[i]
		if j == -1 {
			continue
		}
		if liveVersion[i] != c.verL || liveVersion[j] != c.verR {
			continue // stale: one of the two slots changed since this entry was pushed
		}

		a, b := tokens[i], tokens[j]
		rankNow, ok := r.MergeRank(a, b)
		if !ok || a != c.leftToken || b != c.rightToken {
			continue
		}

		tokens[i] = rankNow // merged token's id is its rank, per spec.md §3

		nj := next[j]
		next[i] = nj
		if nj != -1 {
			prev[nj] = i
		}
		prev[j], next[j] = -1, -1

		liveVersion[i]++
		liveVersion[j]++

		if pi := prev[i]; pi != -1 {
			pushIfMergeable(pi)
		}
		pushIfMergeable(i)
	}

	out := make([]int32, 0, n)
	for i := head; i != -1; i = next[i] {
		out = append(out, tokens[i])
	}
	return out
}
