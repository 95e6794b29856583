// Package topk implements a bounded max-heap for extracting the k
// smallest-distance candidates out of a larger candidate set, the way
// a nearest-centroid or nearest-neighbor scan does.
package topk

import "container/heap"

// Candidate is one scored item: an id paired with its distance to
// whatever the caller is probing against. Smaller distance is better.
type Candidate struct {
	ID       int
	Distance float32
}

// CandidateHeap is a max-heap on Distance (worst candidate at the
// root), which is what makes it cheap to evict the single worst
// member of a bounded top-k pool when a better candidate shows up.
type CandidateHeap []Candidate

func (h CandidateHeap) Len() int            { return len(h) }
func (h CandidateHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h CandidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *CandidateHeap) Push(x interface{}) { *h = append(*h, x.(Candidate)) }

func (h *CandidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// NewCandidateHeap allocates an empty heap with capacity maxSize.
func NewCandidateHeap(maxSize int) *CandidateHeap {
	h := make(CandidateHeap, 0, maxSize)
	heap.Init(&h)
	return &h
}

// Peek returns the current worst candidate without removing it.
// Panics if the heap is empty.
func (h *CandidateHeap) Peek() Candidate {
	return (*h)[0]
}

// AddCandidate keeps the pool bounded to maxSize, admitting cand if
// there is room or if it beats the current worst member.
func (h *CandidateHeap) AddCandidate(cand Candidate, maxSize int) {
	if h.Len() < maxSize {
		heap.Push(h, cand)
		return
	}
	if cand.Distance < h.Peek().Distance {
		heap.Pop(h)
		heap.Push(h, cand)
	}
}

// ExtractTop drains the heap and returns its members sorted best
// (smallest distance) first. The heap is empty afterward.
func (h *CandidateHeap) ExtractTop() []Candidate {
	n := h.Len()
	out := make([]Candidate, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Candidate)
	}
	return out
}
