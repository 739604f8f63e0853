package strategies

import "container/heap"

// peNode is one PE's running load inside a peHeap.
type peNode struct {
	pe    int
	load  float64
	index int
}

// peHeap is a min-heap of PEs with deterministic ordering.
// Ordering: load → PE index
type peHeap struct {
	nodes []*peNode
	byPE  map[int]*peNode
}

// newPEHeap builds a heap over pes with the given starting loads.
func newPEHeap(pes []int, loads []float64) *peHeap {
	h := &peHeap{
		nodes: make([]*peNode, 0, len(pes)),
		byPE:  make(map[int]*peNode, len(pes)),
	}
	for _, pe := range pes {
		n := &peNode{pe: pe, load: loads[pe], index: len(h.nodes)}
		h.nodes = append(h.nodes, n)
		h.byPE[pe] = n
	}
	heap.Init(h)
	return h
}

// Len implements heap.Interface
func (h *peHeap) Len() int {
	return len(h.nodes)
}

// Less implements heap.Interface
func (h *peHeap) Less(i, j int) bool {
	ni, nj := h.nodes[i], h.nodes[j]
	if ni.load != nj.load {
		return ni.load < nj.load
	}
	return ni.pe < nj.pe
}

// Swap implements heap.Interface
func (h *peHeap) Swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.nodes[i].index = i
	h.nodes[j].index = j
}

// Push implements heap.Interface
func (h *peHeap) Push(x interface{}) {
	n := x.(*peNode)
	n.index = len(h.nodes)
	h.nodes = append(h.nodes, n)
}

// Pop implements heap.Interface
func (h *peHeap) Pop() interface{} {
	old := h.nodes
	n := len(old)
	item := old[n-1]
	h.nodes = old[0 : n-1]
	return item
}

// Peek returns the least loaded PE without removing it.
func (h *peHeap) Peek() *peNode {
	if h.Len() == 0 {
		return nil
	}
	return h.nodes[0]
}

// Add charges load to pe and restores heap order. Unknown PEs are ignored.
func (h *peHeap) Add(pe int, load float64) {
	n, ok := h.byPE[pe]
	if !ok {
		return
	}
	n.load += load
	heap.Fix(h, n.index)
}

// Contains reports whether pe is in the heap.
func (h *peHeap) Contains(pe int) bool {
	_, ok := h.byPE[pe]
	return ok
}

// LoadOf returns pe's current load.
func (h *peHeap) LoadOf(pe int) float64 {
	if n, ok := h.byPE[pe]; ok {
		return n.load
	}
	return 0
}
