// Package kheap implements HeapAllocator: the kernel's process-wide
// small-object free-list allocator, the classic K&R first-fit design
// expressed with biscuit's unsafe-pointer-punning idiom instead of C's
// union header.
package kheap

import (
	"sync"
	"unsafe"

	"kmemvm/bounds"
	"kmemvm/mem"
	"kmemvm/res"
	"kmemvm/stats"
)

// header is the block header stored immediately before every heap block.
// Its size is the allocator's "unit": requests are rounded up to a whole
// number of units, and the header itself occupies exactly one unit, so
// that returned bodies stay aligned to the widest field header carries
// (the *header, which on every supported platform is at least as wide as
// any scalar a kernel-internal allocation needs).
type header struct {
	next *header
	size uint // size in units, including this header
}

var unitSize = uint(unsafe.Sizeof(header{}))

// maxUnits is the largest single allocation morecore can ever satisfy:
// one page minus the header it carries for its own injection.
var maxUnits = uint(mem.PGSIZE)/unitSize - 1

/// Stats_t counts heap activity for diagnostics (cmd/kmstat, tests).
type Stats_t struct {
	Allocs    stats.Counter_t
	Frees     stats.Counter_t
	Morecores stats.Counter_t
}

/// Heap_t is the process-wide kernel heap. The zero value is usable: the
/// free list self-initializes on first Alloc/Free, exactly as biscuit's
/// static kbase/kfreep do.
type Heap_t struct {
	sync.Mutex // guards kbase/kfreep under SMP

	kbase  header
	kfreep *header

	Frame  mem.Frame_i
	Budget res.Tracker_t
	Stats  Stats_t
}

func addrOf(h *header) uintptr { return uintptr(unsafe.Pointer(h)) }

func headerAdd(h *header, units uint) *header {
	return (*header)(unsafe.Pointer(addrOf(h) + uintptr(units)*uintptr(unitSize)))
}

func bodyAddr(h *header) mem.Pa_t {
	return mem.Pa_t(addrOf(h) + uintptr(unitSize))
}

func headerOf(addr mem.Pa_t) *header {
	return (*header)(unsafe.Pointer(uintptr(addr) - uintptr(unitSize)))
}

func (h *Heap_t) ensureInit() {
	if h.kfreep == nil {
		h.kbase.next = &h.kbase
		h.kbase.size = 0
		h.kfreep = &h.kbase
	}
}

/// Alloc returns the address of a block with at least nbytes usable
/// bytes, or ok=false on frame exhaustion. First-fit over the circular
/// free list starting at kfreep.next.
func (h *Heap_t) Alloc(nbytes uint) (mem.Pa_t, bool) {
	h.Lock()
	defer h.Unlock()

	need := bounds.Bounds(bounds.B_KHEAP_ALLOC)
	if !h.Budget.Resadd_noblock(need) {
		return 0, false
	}
	defer h.Budget.Resdec(need)

	h.ensureInit()

	nunits := (nbytes+unitSize-1)/unitSize + 1

	prevp := h.kfreep
	p := prevp.next
	for {
		if p.size >= nunits {
			if p.size == nunits {
				prevp.next = p.next
			} else {
				p.size -= nunits
				p = headerAdd(p, p.size)
				p.size = nunits
			}
			h.kfreep = prevp
			h.Stats.Allocs.Inc()
			return bodyAddr(p), true
		}
		if p == h.kfreep {
			np, ok := h.morecore(nunits)
			if !ok {
				return 0, false
			}
			p = np
		}
		prevp = p
		p = p.next
	}
}

// morecore requests exactly one page frame and injects it into the free
// list via free() (which coalesces if adjacent to existing free space).
// It always injects maxUnits worth of space, regardless of how much the
// caller asked for, as long as the request fits in one page; a request
// that cannot ever fit in one page is an unrecoverable, documented cap
// rather than a retryable failure.
func (h *Heap_t) morecore(nunits uint) (*header, bool) {
	if nunits > maxUnits {
		panic("kheap: allocation request exceeds one-page cap")
	}
	addr, ok := h.Frame.AllocFrame()
	if !ok {
		return nil, false
	}
	pg := (*mem.Pg_t)(unsafe.Pointer(uintptr(addr)))
	hp := (*header)(unsafe.Pointer(&mem.Pg2bytes(pg)[0]))
	hp.size = maxUnits
	h.Stats.Morecores.Inc()
	h.free(bodyAddr(hp))
	return h.kfreep, true
}

/// Free returns a block previously returned by Alloc to the free pool.
/// Undefined if addr was not returned by Alloc or has already been freed.
func (h *Heap_t) Free(addr mem.Pa_t) {
	h.Lock()
	defer h.Unlock()
	h.free(addr)
	h.Stats.Frees.Inc()
}

func (h *Heap_t) free(addr mem.Pa_t) {
	h.ensureInit()
	bp := headerOf(addr)

	// Walk the circular free list to the pair (p, p.next) straddling bp,
	// handling the wrap-around case where the list "ends" (p >= p.next)
	// and bp lies outside [p, p.next] on the high or low end.
	p := h.kfreep
	for !(addrOf(bp) > addrOf(p) && addrOf(bp) < addrOf(p.next)) {
		if addrOf(p) >= addrOf(p.next) && (addrOf(bp) > addrOf(p) || addrOf(bp) < addrOf(p.next)) {
			break
		}
		p = p.next
	}

	if addrOf(headerAdd(bp, bp.size)) == addrOf(p.next) {
		bp.size += p.next.size
		bp.next = p.next.next
	} else {
		bp.next = p.next
	}

	if addrOf(headerAdd(p, p.size)) == addrOf(bp) {
		p.size += bp.size
		p.next = bp.next
	} else {
		p.next = bp
	}

	h.kfreep = p
}

/// FreeBytes walks the free list and sums the usable bytes it holds
/// (total size minus one header's worth per block). A full alloc/free
/// round trip always restores this total to its prior steady-state value.
func (h *Heap_t) FreeBytes() uint {
	h.Lock()
	defer h.Unlock()
	h.ensureInit()
	total := uint(0)
	for p := h.kbase.next; p != &h.kbase; p = p.next {
		if p.size > 0 {
			total += (p.size - 1) * unitSize
		}
	}
	return total
}
