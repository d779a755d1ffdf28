// Package bounds names the heap-node budget each kheap/vmregion entry
// point may consume in its worst case, so res.Tracker_t can refuse an
// operation before it mutates any list -- the same
// "gimme := bounds.Bounds(bounds.B_X)" shape biscuit's vm package uses at
// every user-memory access site.
package bounds

/// Bound_t identifies one call site's worst-case heap-node budget.
type Bound_t int

const (
	/// B_KHEAP_ALLOC is kheap.Heap_t.Alloc's budget: at most one morecore
	/// frame injection.
	B_KHEAP_ALLOC Bound_t = iota
	/// B_KHEAP_FREE is kheap.Heap_t.Free's budget: it never allocates.
	B_KHEAP_FREE
	/// B_VMREGION_MMAP_APPEND is the append-at-top mmap branch: one used
	/// node plus, optionally, one free gap node.
	B_VMREGION_MMAP_APPEND
	/// B_VMREGION_MMAP_REUSE is the reuse-existing-free-node mmap branch:
	/// one post-split free node plus one pre-split used node.
	B_VMREGION_MMAP_REUSE
	/// B_VMREGION_MUNMAP is Munmap's budget: it only frees nodes.
	B_VMREGION_MUNMAP
	/// B_VMREGION_COPY_NODE is the per-node budget CopyRegions consumes
	/// while cloning one region.
	B_VMREGION_COPY_NODE
)

// units holds how many heap nodes each site may allocate before it
// commits a single list mutation.
var units = [...]int{
	B_KHEAP_ALLOC:          0,
	B_KHEAP_FREE:           0,
	B_VMREGION_MMAP_APPEND: 2,
	B_VMREGION_MMAP_REUSE:  2,
	B_VMREGION_MUNMAP:      0,
	B_VMREGION_COPY_NODE:   1,
}

/// Bounds returns the worst-case node budget for b.
func Bounds(b Bound_t) int {
	return units[b]
}
