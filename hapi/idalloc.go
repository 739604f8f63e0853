package hapi

import "math/bits"

// idAllocator tracks live buffer slots over the index space [0, 2n).
// [0, n) is user-addressed: callers pick the ID. [n, 2n) is system-addressed:
// IDs are handed out by a forward scan from a rotating cursor that wraps once.
// Not safe for concurrent use; bufferRegistry serializes access.
type idAllocator struct {
	n    int
	live []uint64
	next int
}

func newIDAllocator(n int) *idAllocator {
	return &idAllocator{
		n:    n,
		live: make([]uint64, (2*n+63)/64),
		next: n,
	}
}

// isUser reports whether id lies in the user-addressed half.
func (a *idAllocator) isUser(id int) bool {
	return id >= 0 && id < a.n
}

func (a *idAllocator) valid(id int) bool {
	return id >= 0 && id < 2*a.n
}

func (a *idAllocator) isLive(id int) bool {
	return a.live[id/64]&(1<<(uint(id)%64)) != 0
}

func (a *idAllocator) mark(id int) {
	a.live[id/64] |= 1 << (uint(id) % 64)
}

func (a *idAllocator) clear(id int) {
	a.live[id/64] &^= 1 << (uint(id) % 64)
}

// claimSystem finds a free system-addressed slot, scanning [next, 2n) then
// [n, next). The cursor moves past the slot found. The slot is not marked
// live; the caller marks it once device memory backs it.
func (a *idAllocator) claimSystem() (int, bool) {
	id, ok := a.firstFree(a.next, 2*a.n)
	if !ok {
		id, ok = a.firstFree(a.n, a.next)
	}
	if !ok {
		return -1, false
	}
	a.next = id + 1
	if a.next == 2*a.n {
		a.next = a.n
	}
	return id, true
}

// firstFree returns the lowest non-live id in [lo, hi).
func (a *idAllocator) firstFree(lo, hi int) (int, bool) {
	for id := lo; id < hi; {
		word := id / 64
		// bits at or above id's offset that are free
		free := ^a.live[word] &^ (1<<(uint(id)%64) - 1)
		if free != 0 {
			found := word*64 + bits.TrailingZeros64(free)
			if found < hi {
				return found, true
			}
			return -1, false
		}
		id = (word + 1) * 64
	}
	return -1, false
}

// liveCount returns the number of live slots.
func (a *idAllocator) liveCount() int {
	n := 0
	for _, w := range a.live {
		n += bits.OnesCount64(w)
	}
	return n
}
