package vm

import (
	"sync"

	"kmemvm/defs"
	"kmemvm/mem"
)

/// FakePageTableMapper is an in-memory PageTableMapper: it tracks which
/// byte ranges are "installed" without any real page table, so tests and
/// cmd/kmstat can exercise RegionMapper without a running kernel. It is
/// not a substitute for the real page-table installer's job of actually
/// backing pages with physical frames.
type FakePageTableMapper struct {
	sync.Mutex
	installed map[mem.Pa_t]bool // per-page installed flag, keyed by page-aligned address
	FailNext  bool              // next Map/Unmap call returns err, for rollback drills
}

func (f *FakePageTableMapper) pages(lo, hi mem.Pa_t) []mem.Pa_t {
	pgsize := mem.Pa_t(mem.PGSIZE)
	var out []mem.Pa_t
	for p := lo; p < hi; p += pgsize {
		out = append(out, p)
	}
	return out
}

/// MapPages marks every page in [lo, hi) installed.
func (f *FakePageTableMapper) MapPages(pgdir *mem.Pmap_t, lo, hi mem.Pa_t) defs.Err_t {
	f.Lock()
	defer f.Unlock()
	if f.FailNext {
		f.FailNext = false
		return -defs.ENOMEM
	}
	if f.installed == nil {
		f.installed = make(map[mem.Pa_t]bool)
	}
	for _, p := range f.pages(lo, hi) {
		f.installed[p] = true
	}
	return 0
}

/// UnmapPages clears every page in [lo, hi) and returns lo as the new
/// high-water mark.
func (f *FakePageTableMapper) UnmapPages(pgdir *mem.Pmap_t, hi, lo mem.Pa_t) (mem.Pa_t, defs.Err_t) {
	f.Lock()
	defer f.Unlock()
	if f.FailNext {
		f.FailNext = false
		return 0, -defs.EFAULT
	}
	for _, p := range f.pages(lo, hi) {
		delete(f.installed, p)
	}
	return lo, 0
}

/// SwitchUVM is a no-op: there is no real CPU to reload MMU state on.
func (f *FakePageTableMapper) SwitchUVM(pgdir *mem.Pmap_t) {}

/// Installed reports whether every page in [lo, hi) is currently
/// installed, for tests asserting invariant 3 (used pages resolve
/// through pgdir, free pages don't).
func (f *FakePageTableMapper) Installed(lo, hi mem.Pa_t) bool {
	f.Lock()
	defer f.Unlock()
	for _, p := range f.pages(lo, hi) {
		if !f.installed[p] {
			return false
		}
	}
	return true
}
