package mem

import (
	"sync"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
)

/// FramePool_t is the default, non-test Frame_i: it grows by mmap-ing
/// real anonymous, page-aligned OS memory one frame at a time, so "page
/// frame" is backed by a genuinely page-aligned allocation rather than a
/// make([]byte, ...) slice that merely happens to be large enough.
type FramePool_t struct {
	sync.Mutex
	regions []mmap.MMap
}

/// AllocFrame mmaps a fresh page and returns its address, zero-filling it
/// a word at a time rather than trusting the platform's anonymous-mapping
/// zero guarantee.
func (fp *FramePool_t) AllocFrame() (Pa_t, bool) {
	fp.Lock()
	defer fp.Unlock()

	m, err := mmap.MapRegion(nil, PGSIZE, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return 0, false
	}
	pg := Bytepg2pg((*Bytepg_t)(unsafe.Pointer(&m[0])))
	for i := range pg {
		pg[i] = 0
	}
	fp.regions = append(fp.regions, m)
	addr := Pa_t(uintptr(unsafe.Pointer(&m[0])))
	return addr, true
}

/// Frames reports how many frames have been handed out. Used by tests to
/// confirm the "single morecore sufficed" heap-stress property.
func (fp *FramePool_t) Frames() int {
	fp.Lock()
	defer fp.Unlock()
	return len(fp.regions)
}

/// Close releases every mmap'd frame. The kernel heap never calls this --
/// frames it obtains live for the lifetime of the kernel -- but tests use
/// it to avoid leaking OS mappings across table-driven cases.
func (fp *FramePool_t) Close() error {
	fp.Lock()
	defer fp.Unlock()
	var first error
	for _, m := range fp.regions {
		if err := m.Unmap(); err != nil && first == nil {
			first = err
		}
	}
	fp.regions = nil
	return first
}
