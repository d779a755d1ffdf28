// Package vm composes HeapAllocator and RegionMapper into one per-process
// address space and exposes the syscall-style mmap/munmap entry points,
// adapted from biscuit's vm.Vm_t (src/vm/as.go) which groups
// sz/Pmap/pgdir together behind Lock_pmap/Unlock_pmap; here the
// single-threaded-cooperative model needs no such lock on the hot path,
// only on the shared kernel heap, which kheap.Heap_t guards with its own
// mutex.
package vm

import (
	"kmemvm/defs"
	"kmemvm/kheap"
	"kmemvm/mem"
	"kmemvm/util"
	"kmemvm/vmregion"
)

// mlistDescSz is the packed size, in bytes, of one region descriptor
// written by Sys_mlist: an 8-byte start address followed by an 8-byte
// length.
const mlistDescSz = 16

/// AddressSpace_t is one process's virtual memory: its region list, its
/// page-directory handle, and (shared, process-wide) the kernel heap its
/// region mapper allocates metadata nodes from.
type AddressSpace_t struct {
	Regions vmregion.List_t
}

/// NewAddressSpace wires a fresh, empty address space to the given
/// kernel heap and VM mapper collaborator, starting its break at sz.
func NewAddressSpace(heap *kheap.Heap_t, pt vmregion.PageTableMapper, sz mem.Pa_t) *AddressSpace_t {
	return &AddressSpace_t{
		Regions: vmregion.List_t{
			Heap:  heap,
			PT:    pt,
			Pgdir: &mem.Pmap_t{},
			Sz:    sz,
		},
	}
}

/// Sys_mmap implements the mmap(2) surface: an integer return, -1 on
/// error, otherwise the chosen address.
func (as *AddressSpace_t) Sys_mmap(addr, length, prot, flags, fd, offset int) int {
	got, err := as.Regions.Mmap(mem.Pa_t(addr), length, prot, flags, fd, offset)
	if err != 0 {
		return -1
	}
	return int(got)
}

/// Sys_munmap implements the munmap(2) surface: 0 on success, -1 on
/// error.
func (as *AddressSpace_t) Sys_munmap(addr, length int) int {
	if err := as.Regions.Munmap(mem.Pa_t(addr), length); err != 0 {
		return -1
	}
	return 0
}

/// Fork clones the address space's region list for a child process,
/// sharing the same kernel heap and VM mapper but getting its own page
/// directory.
func (as *AddressSpace_t) Fork(childPgdir *mem.Pmap_t) (*AddressSpace_t, defs.Err_t) {
	head, ok := as.Regions.CopyRegions()
	if !ok {
		return nil, -defs.ENOHEAP
	}
	child := &AddressSpace_t{
		Regions: vmregion.List_t{
			Head:  head,
			Heap:  as.Regions.Heap,
			PT:    as.Regions.PT,
			Pgdir: childPgdir,
			Sz:    as.Regions.Sz,
		},
	}
	return child, 0
}

/// Exit tears down the address space's region-node metadata. The VM
/// mapper collaborator is responsible for unmapping and freeing the
/// underlying page-table frames; this only returns kheap nodes.
func (as *AddressSpace_t) Exit() {
	as.Regions.Clear()
}

/// Sys_mlist packs up to len(buf)/mlistDescSz live region descriptors
/// (start address, length) into buf for a userspace introspection call,
/// returning the number of descriptors written.
func (as *AddressSpace_t) Sys_mlist(buf []byte) int {
	nodes := as.Regions.Nodes()
	n := util.Min(len(nodes), len(buf)/mlistDescSz)
	for i := 0; i < n; i++ {
		util.Writen(buf, 8, i*mlistDescSz, int(nodes[i].Start))
		util.Writen(buf, 8, i*mlistDescSz+8, nodes[i].Length)
	}
	return n
}

/// DecodeMlistEntry reads back the i'th descriptor packed by Sys_mlist,
/// for callers (and tests) verifying the round trip.
func DecodeMlistEntry(buf []byte, i int) (start mem.Pa_t, length int) {
	off := i * mlistDescSz
	return mem.Pa_t(util.Readn(buf, 8, off)), util.Readn(buf, 8, off+8)
}
