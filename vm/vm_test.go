package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kmemvm/kheap"
	"kmemvm/mem"
)

func newTestAS(t *testing.T) (*AddressSpace_t, *FakePageTableMapper) {
	fp := &mem.FramePool_t{}
	t.Cleanup(func() { fp.Close() })
	heap := &kheap.Heap_t{Frame: fp}
	pt := &FakePageTableMapper{}
	return NewAddressSpace(heap, pt, 0x4000), pt
}

func TestSysMmapMunmapRoundTrip(t *testing.T) {
	as, pt := newTestAS(t)

	addr := as.Sys_mmap(0, 0x2000, 0, 0, -1, 0)
	require.Equal(t, 0x4000, addr)
	require.True(t, pt.Installed(0x4000, 0x6000))

	require.Equal(t, 0, as.Sys_munmap(0x4000, 0x2000))
	require.False(t, pt.Installed(0x4000, 0x6000))
}

func TestSysMmapReturnsMinusOneOnError(t *testing.T) {
	as, _ := newTestAS(t)

	require.Equal(t, -1, as.Sys_mmap(0, -1, 0, 0, -1, 0))
	require.Equal(t, -1, as.Sys_munmap(0x9999, 0x1000))
}

func TestSysMmapRollsBackOnCollaboratorFailure(t *testing.T) {
	as, pt := newTestAS(t)

	pt.FailNext = true
	addr := as.Sys_mmap(0, 0x1000, 0, 0, -1, 0)
	require.Equal(t, -1, addr)
	require.Nil(t, as.Regions.Head)
	require.Equal(t, mem.Pa_t(0x4000), as.Regions.Sz)
}

func TestForkClonesRegionsIntoNewAddressSpace(t *testing.T) {
	as, _ := newTestAS(t)
	as.Sys_mmap(0, 0x2000, 0, 0, -1, 0)

	child, err := as.Fork(&mem.Pmap_t{})
	require.Zero(t, err)
	require.NotNil(t, child.Regions.Head)
	require.NotSame(t, as.Regions.Head, child.Regions.Head)
	require.Equal(t, as.Regions.Head.Start, child.Regions.Head.Start)
	require.Equal(t, as.Regions.Sz, child.Regions.Sz)

	child.Exit()
	as.Exit()
}

func TestSysMlistPacksRegionDescriptors(t *testing.T) {
	as, _ := newTestAS(t)
	as.Sys_mmap(0, 0x2000, 0, 0, -1, 0)
	as.Sys_mmap(0, 0x1000, 0, 0, -1, 0)

	buf := make([]byte, 64)
	n := as.Sys_mlist(buf)
	require.Equal(t, len(as.Regions.Nodes()), n)

	for i, node := range as.Regions.Nodes() {
		start, length := DecodeMlistEntry(buf, i)
		require.Equal(t, node.Start, start)
		require.Equal(t, node.Length, length)
	}
}

func TestSysMlistTruncatesToBufferCapacity(t *testing.T) {
	as, _ := newTestAS(t)
	as.Sys_mmap(0, 0x2000, 0, 0, -1, 0)
	as.Sys_mmap(0, 0x1000, 0, 0, -1, 0)

	buf := make([]byte, 16)
	n := as.Sys_mlist(buf)
	require.Equal(t, 1, n)
}
