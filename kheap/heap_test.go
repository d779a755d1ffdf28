package kheap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kmemvm/mem"
)

func newTestHeap(t *testing.T) (*Heap_t, *mem.FramePool_t) {
	fp := &mem.FramePool_t{}
	t.Cleanup(func() { fp.Close() })
	return &Heap_t{Frame: fp}, fp
}

func TestAllocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	h, _ := newTestHeap(t)

	a, ok := h.Alloc(32)
	require.True(t, ok)
	b, ok := h.Alloc(32)
	require.True(t, ok)

	require.NotEqual(t, a, b)
	// The two bodies, plus their headers, must not overlap.
	lo, hi := a, b
	if hi < lo {
		lo, hi = hi, lo
	}
	require.GreaterOrEqual(t, uintptr(hi), uintptr(lo)+32)
}

func TestFreeRestoresTotalFreeBytes(t *testing.T) {
	h, _ := newTestHeap(t)

	// Warm up: the first alloc triggers morecore. Capture the resulting
	// steady-state free-byte total once that block is given back, so the
	// law below doesn't depend on morecore's internal bookkeeping.
	warm, ok := h.Alloc(64)
	require.True(t, ok)
	h.Free(warm)
	steady := h.FreeBytes()

	a, ok := h.Alloc(64)
	require.True(t, ok)
	require.Less(t, h.FreeBytes(), steady)

	h.Free(a)
	require.Equal(t, steady, h.FreeBytes())
}

func TestAllocZeroSizedBlockStillUsable(t *testing.T) {
	h, _ := newTestHeap(t)

	addr, ok := h.Alloc(0)
	require.True(t, ok)
	h.Free(addr)
}

func TestMorecoreExactlyOncePerPageOfDemand(t *testing.T) {
	h, fp := newTestHeap(t)

	// Each block is small; many should fit in the first morecore'd page
	// before a second frame is ever requested.
	var addrs []mem.Pa_t
	for i := 0; i < 8; i++ {
		addr, ok := h.Alloc(16)
		require.True(t, ok)
		addrs = append(addrs, addr)
	}
	require.Equal(t, 1, fp.Frames())

	for _, a := range addrs {
		h.Free(a)
	}
}

func TestAllocRequestBeyondOnePageCapPanics(t *testing.T) {
	h, _ := newTestHeap(t)

	require.Panics(t, func() {
		h.Alloc(uint(mem.PGSIZE))
	})
}

func TestAllocFreeStressKeepsFrameCountBounded(t *testing.T) {
	h, fp := newTestHeap(t)

	for i := 0; i < 10000; i++ {
		addr, ok := h.Alloc(47)
		require.True(t, ok)
		h.Free(addr)
	}
	require.LessOrEqual(t, fp.Frames(), 1)
}

func TestFreeCoalescesAdjacentBlocks(t *testing.T) {
	h, _ := newTestHeap(t)

	a, ok := h.Alloc(64)
	require.True(t, ok)
	b, ok := h.Alloc(64)
	require.True(t, ok)
	c, ok := h.Alloc(64)
	require.True(t, ok)

	before := h.FreeBytes()
	h.Free(b)
	h.Free(a)
	h.Free(c)
	after := h.FreeBytes()

	require.Greater(t, after, before)
}

func TestStatsCountAllocsFreesAndMorecores(t *testing.T) {
	h, _ := newTestHeap(t)

	a, ok := h.Alloc(16)
	require.True(t, ok)
	h.Free(a)

	require.EqualValues(t, 1, h.Stats.Allocs.Get())
	require.EqualValues(t, 1, h.Stats.Frees.Get())
	require.EqualValues(t, 1, h.Stats.Morecores.Get())
}
