// Package mem holds the address types, page-granularity constants and the
// Frame Allocator collaborator interface shared by kheap and vmregion.
//
// The page-table installer, the physical-page refcounting allocator, and
// the scheduler are external collaborators per the core's scope: this
// package only carries the pieces of biscuit's mem package that the heap
// allocator and region mapper actually touch.
package mem

import "unsafe"

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// KERNBASE is the lowest kernel virtual address; mmap/munmap reject any
/// user address at or above it.
const KERNBASE Pa_t = 1 << 47

/// Pa_t represents a virtual or physical address, depending on context.
/// The core never distinguishes the two: the Frame Allocator collaborator
/// hands back addresses that are directly usable as-is.
type Pa_t uintptr

/// Pg_t is a page viewed as an array of machine words, used where the
/// allocator needs word alignment (the heap header's unit size).
type Pg_t [PGSIZE / 8]uint64

/// Bytepg_t is a page viewed as a byte array.
type Bytepg_t [PGSIZE]uint8

/// Pg2bytes reinterprets a word-page as a byte-page.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg reinterprets a byte-page as a word-page.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

/// Pmap_t is the opaque page-directory handle installed by the VM mapper
/// collaborator (allocuvm/deallocuvm/switchuvm territory); the core never
/// dereferences it.
type Pmap_t struct{}

/// Frame_i abstracts the page-frame allocator: give back a fresh,
/// zeroed frame, or report exhaustion.
type Frame_i interface {
	// AllocFrame returns the address of one zeroed, page-aligned,
	// kernel-writable frame, or ok=false on exhaustion.
	AllocFrame() (Pa_t, bool)
}
