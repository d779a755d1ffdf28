// Package vmregion implements RegionMapper: the per-process, address-
// ordered list of used/free virtual-memory regions behind mmap/munmap.
// Every list walk here is iterative, not recursive, and it uses kheap for
// its own node allocation the same way the rest of the kernel does.
package vmregion

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"kmemvm/bounds"
	"kmemvm/defs"
	"kmemvm/kheap"
	"kmemvm/mem"
	"kmemvm/res"
	"kmemvm/stats"
	"kmemvm/util"
)

/// Region_t is one contiguous, page-aligned virtual-address interval in
/// one process's region list.
type Region_t struct {
	Start    mem.Pa_t
	Length   int
	Capacity int
	Used     bool
	Prot     int
	Flags    int
	Fd       int
	Offset   int
	next     *Region_t
}

/// RegionType reports 0 (anonymous) or 1 (file-backed), derived from Fd.
/// The core never fetches file contents through this value -- it is
/// bookkeeping for the caller that interprets Fd/Offset.
func (r *Region_t) RegionType() int {
	if r.Fd == -1 {
		return 0
	}
	return 1
}

/// PageTableMapper is the VM mapper collaborator: installs and tears
/// down PTEs, and reloads the CPU's page directory. Its
/// concrete implementation -- real page-table manipulation -- is outside
/// this core's scope; vmregion only depends on this interface.
type PageTableMapper interface {
	// MapPages installs writable user PTEs for [loVA, hiVA).
	MapPages(pgdir *mem.Pmap_t, loVA, hiVA mem.Pa_t) defs.Err_t
	// UnmapPages tears down PTEs for [loVA, hiVA) and returns the new
	// high-water mark.
	UnmapPages(pgdir *mem.Pmap_t, hiVA, loVA mem.Pa_t) (mem.Pa_t, defs.Err_t)
	// SwitchUVM reloads CPU MMU state from pgdir.
	SwitchUVM(pgdir *mem.Pmap_t)
}

/// Stats_t counts region-mapper activity for diagnostics (cmd/kmstat,
/// tests).
type Stats_t struct {
	Mmaps        stats.Counter_t
	Munmaps      stats.Counter_t
	Splits       stats.Counter_t
	Merges       stats.Counter_t
	TailReclaims stats.Counter_t
}

/// List_t is RegionMapper plus the per-process state it references: the
/// address-ordered region list, the process break, the page-directory
/// handle and the VM mapper collaborator.
type List_t struct {
	Head  *Region_t
	Sz    mem.Pa_t
	Pgdir *mem.Pmap_t
	PT    PageTableMapper
	Heap  *kheap.Heap_t

	Budget res.Tracker_t
	Stats  Stats_t

	// Warn receives invariant-violation diagnostics: logged, not fatal.
	// Defaults to stderr if left nil.
	Warn io.Writer
}

func (l *List_t) warnf(format string, args ...interface{}) {
	w := l.Warn
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "vmregion: "+format+"\n", args...)
}

func (l *List_t) newNode() (*Region_t, bool) {
	addr, ok := l.Heap.Alloc(uint(unsafe.Sizeof(Region_t{})))
	if !ok {
		return nil, false
	}
	n := (*Region_t)(unsafe.Pointer(uintptr(addr)))
	*n = Region_t{}
	return n, true
}

func (l *List_t) freeNode(n *Region_t) {
	l.Heap.Free(mem.Pa_t(uintptr(unsafe.Pointer(n))))
}

func (l *List_t) lastNode() *Region_t {
	if l.Head == nil {
		return nil
	}
	cur := l.Head
	for cur.next != nil {
		cur = cur.next
	}
	return cur
}

/// Placement is the (block, addr) output of address search: Block == nil
/// means "extend sz", otherwise addr lies inside Block's free span.
type Placement struct {
	Addr  mem.Pa_t
	Block *Region_t
}

func absDelta(a, b mem.Pa_t) int64 {
	return util.Abs(int64(a) - int64(b))
}

/// findPlacement searches the free-node chain for a placement. anyValid
/// stops at the first fitting free node (addr == 0); otherwise it hunts
/// within each candidate node for the page-aligned start nearest
/// alignedHint, abandoning the scan once distance starts growing (the
/// list is address-sorted, so distance grows monotonically past the
/// minimum).
func (l *List_t) findPlacement(addr mem.Pa_t, length int, anyValid bool) Placement {
	pgsize := mem.Pa_t(mem.PGSIZE)
	alignedHint := util.PageAlign(addr, pgsize)

	var best Placement
	haveBest := false

scan:
	for cur := l.Head; cur != nil; cur = cur.next {
		if cur.Used || cur.Length < length {
			continue
		}
		if anyValid {
			best = Placement{Addr: cur.Start, Block: cur}
			haveBest = true
			break scan
		}
		if !haveBest {
			best = Placement{Addr: cur.Start, Block: cur}
			haveBest = true
		}
		for t := cur.Start; int(t-cur.Start)+length <= cur.Length; t += pgsize {
			if absDelta(t, alignedHint) > absDelta(best.Addr, alignedHint) {
				break scan
			}
			best = Placement{Addr: t, Block: cur}
		}
	}

	target := util.Roundup(l.Sz, pgsize)
	if alignedHint > target {
		target = alignedHint
	}
	if !haveBest || absDelta(target, alignedHint) < absDelta(best.Addr, alignedHint) {
		return Placement{Addr: target, Block: nil}
	}
	return best
}

/// Mmap creates a new used region of length bytes and returns its
/// starting address, or an error.
func (l *List_t) Mmap(addr mem.Pa_t, length, prot, flags, fd, offset int) (mem.Pa_t, defs.Err_t) {
	if addr >= mem.KERNBASE || length <= 0 {
		return 0, -defs.EINVAL
	}

	l.tailReclaim()
	last := l.lastNode()
	placement := l.findPlacement(addr, length, addr == 0)

	if placement.Block == nil {
		return l.mmapAppend(last, placement.Addr, length, prot, flags, fd, offset)
	}
	return l.mmapReuse(placement, length, prot, flags, fd, offset)
}

// mmapAppend grows sz to cover the new region, leaving an optional free
// gap node behind when the chosen address is beyond the current break.
func (l *List_t) mmapAppend(last *Region_t, target mem.Pa_t, length, prot, flags, fd, offset int) (mem.Pa_t, defs.Err_t) {
	need := bounds.Bounds(bounds.B_VMREGION_MMAP_APPEND)
	if !l.Budget.Resadd_noblock(need) {
		return 0, -defs.ENOHEAP
	}
	defer l.Budget.Resdec(need)

	pgsize := mem.Pa_t(mem.PGSIZE)
	roundedSz := util.Roundup(l.Sz, pgsize)
	gap := target - roundedSz
	if gap%pgsize != 0 {
		l.warnf("mmap: gap %d is not page-aligned", gap)
	}
	prevSz := l.Sz

	if err := l.PT.MapPages(l.Pgdir, l.Sz, target+mem.Pa_t(length)); err != 0 {
		return 0, err
	}

	used, ok := l.newNode()
	if !ok {
		l.PT.UnmapPages(l.Pgdir, target+mem.Pa_t(length), prevSz)
		return 0, -defs.ENOMEM
	}
	*used = Region_t{Start: target, Length: length, Capacity: length, Used: true,
		Prot: prot, Flags: flags, Fd: fd, Offset: offset}
	// The VM mapper collaborator hands back zeroed pages for a freshly
	// installed mapping; the core does not memset through an address it
	// does not itself own.

	var freeNode *Region_t
	if gap > 0 {
		fn, ok := l.newNode()
		if !ok {
			l.freeNode(used)
			l.PT.UnmapPages(l.Pgdir, target+mem.Pa_t(length), prevSz)
			return 0, -defs.ENOMEM
		}
		*fn = Region_t{Start: roundedSz, Length: int(gap), Capacity: int(gap)}
		freeNode = fn
		// The free gap must not hold live PTEs (region-node invariant),
		// even though map_pages just installed them across its span.
		if _, err := l.PT.UnmapPages(l.Pgdir, roundedSz+gap, roundedSz); err != 0 {
			l.freeNode(used)
			l.freeNode(fn)
			l.PT.UnmapPages(l.Pgdir, target+mem.Pa_t(length), prevSz)
			return 0, err
		}
	}

	if freeNode != nil {
		if last == nil {
			l.Head = freeNode
		} else {
			last.next = freeNode
		}
		freeNode.next = used
	} else {
		if last == nil {
			l.Head = used
		} else {
			last.next = used
		}
	}

	l.Sz = target + mem.Pa_t(length)
	l.PT.SwitchUVM(l.Pgdir)
	l.Stats.Mmaps.Inc()
	return used.Start, 0
}

// mmapReuse places the new region inside an existing free node b,
// splitting off a pre/post free remainder as needed.
func (l *List_t) mmapReuse(p Placement, length, prot, flags, fd, offset int) (mem.Pa_t, defs.Err_t) {
	b := p.Block
	need := bounds.Bounds(bounds.B_VMREGION_MMAP_REUSE)
	if !l.Budget.Resadd_noblock(need) {
		return 0, -defs.ENOHEAP
	}
	defer l.Budget.Resdec(need)

	pgsize := mem.Pa_t(mem.PGSIZE)
	closest := p.Addr
	blockEnd := util.Roundup(closest+mem.Pa_t(length), pgsize)
	preSpace := closest - b.Start
	postSpace := (b.Start + mem.Pa_t(b.Length)) - blockEnd
	capacity := blockEnd - closest

	if preSpace%pgsize != 0 {
		return 0, -defs.EINVAL
	}

	oldLen, oldCap, oldNext := b.Length, b.Capacity, b.next
	var post, inner *Region_t

	if postSpace > 0 {
		pn, ok := l.newNode()
		if !ok {
			return 0, -defs.ENOMEM
		}
		*pn = Region_t{Start: blockEnd, Length: int(postSpace), Capacity: int(postSpace)}
		pn.next = b.next
		b.Length = length
		b.Capacity = int(capacity)
		b.next = pn
		post = pn
		l.Stats.Splits.Inc()
		l.tailReclaim() // post may be the last node
	}

	target := b
	if preSpace > 0 {
		in, ok := l.newNode()
		if !ok {
			if post != nil {
				l.freeNode(post)
				b.Length, b.Capacity, b.next = oldLen, oldCap, oldNext
			}
			return 0, -defs.ENOMEM
		}
		*in = Region_t{Start: closest, Length: length, Capacity: int(capacity)}
		in.next = b.next
		b.Length = int(preSpace)
		b.Capacity = int(preSpace)
		b.next = in
		inner = in
		target = in
		l.Stats.Splits.Inc()
	}

	if err := l.PT.MapPages(l.Pgdir, target.Start, target.Start+mem.Pa_t(target.Length)); err != 0 {
		if inner != nil {
			b.next = inner.next
			b.Capacity += int(capacity)
			b.Length = b.Capacity
			l.freeNode(inner)
		}
		if post != nil {
			b.next = post.next
			b.Capacity += int(postSpace)
			b.Length = b.Capacity
			l.freeNode(post)
		}
		return 0, err
	}
	// Freshly mapped used node: the VM mapper collaborator is
	// responsible for zeroed contents, same as the append branch.

	target.Used = true
	target.Prot = prot
	target.Flags = flags
	target.Fd = fd
	target.Offset = offset

	l.Stats.Mmaps.Inc()
	return target.Start, 0
}

/// Munmap destroys the used region whose (start, length) match exactly.
/// Partial unmap is not supported.
func (l *List_t) Munmap(addr mem.Pa_t, length int) defs.Err_t {
	if addr >= mem.KERNBASE || length <= 0 {
		return -defs.EINVAL
	}

	need := bounds.Bounds(bounds.B_VMREGION_MUNMAP)
	if !l.Budget.Resadd_noblock(need) {
		return -defs.ENOHEAP
	}
	defer l.Budget.Resdec(need)

	var prev, cur *Region_t
	for c := l.Head; c != nil; c = c.next {
		if c.Start == addr && c.Length == length {
			cur = c
			break
		}
		prev = c
	}
	if cur == nil {
		return -defs.EINVAL
	}

	oldLength := cur.Length
	oldUsed := cur.Used
	oldProt, oldFlags, oldFd, oldOffset := cur.Prot, cur.Flags, cur.Fd, cur.Offset

	cur.Length = cur.Capacity
	cur.Used = false
	cur.Prot, cur.Flags, cur.Fd, cur.Offset = 0, 0, -1, 0

	if _, err := l.PT.UnmapPages(l.Pgdir, cur.Start+mem.Pa_t(cur.Length), cur.Start); err != 0 {
		cur.Length = oldLength
		cur.Used = oldUsed
		cur.Prot, cur.Flags, cur.Fd, cur.Offset = oldProt, oldFlags, oldFd, oldOffset
		return err
	}
	l.Stats.Munmaps.Inc()

	if prev != nil && !prev.Used && prev.Start+mem.Pa_t(prev.Capacity) == cur.Start {
		prev.Length += cur.Capacity
		prev.Capacity += cur.Capacity
		prev.next = cur.next
		l.freeNode(cur)
		cur = prev
		l.Stats.Merges.Inc()
	}

	if cur.next != nil && !cur.next.Used && cur.Start+mem.Pa_t(cur.Capacity) == cur.next.Start {
		nxt := cur.next
		cur.Length += nxt.Capacity
		cur.Capacity += nxt.Capacity
		cur.next = nxt.next
		l.freeNode(nxt)
		l.Stats.Merges.Inc()
	}

	l.tailReclaim()
	return 0
}

// tailReclaim shrinks sz and frees the last region node when it is free
// and borders the top of the address space. Always safe: the pages it
// covers are, by the free-node invariant, already unmapped.
func (l *List_t) tailReclaim() {
	if l.Head == nil {
		return
	}
	var prev *Region_t
	cur := l.Head
	for cur.next != nil {
		prev = cur
		cur = cur.next
	}
	if cur.Used || cur.Start+mem.Pa_t(cur.Capacity) != l.Sz {
		return
	}
	newSz := cur.Start
	if prev == nil {
		l.Head = nil
	} else {
		prev.next = nil
	}
	l.freeNode(cur)
	l.Sz = newSz
	l.PT.SwitchUVM(l.Pgdir)
	l.Stats.TailReclaims.Inc()
}

/// CopyRegions clones the region list, preserving order and field values,
/// iteratively. It does not duplicate page-table entries -- that is the
/// VM mapper's job on the new process.
func (l *List_t) CopyRegions() (*Region_t, bool) {
	var head, tail *Region_t
	for cur := l.Head; cur != nil; cur = cur.next {
		need := bounds.Bounds(bounds.B_VMREGION_COPY_NODE)
		if !l.Budget.Resadd_noblock(need) {
			l.FreeAll(head)
			return nil, false
		}
		n, ok := l.newNode()
		l.Budget.Resdec(need)
		if !ok {
			l.FreeAll(head)
			return nil, false
		}
		*n = *cur
		n.next = nil
		if head == nil {
			head, tail = n, n
		} else {
			tail.next = n
			tail = n
		}
	}
	return head, true
}

/// FreeAll releases every node in the chain rooted at head via
/// HeapAllocator.Free, iteratively. It assumes no node has Used == true:
/// all pages must already be unmapped by the caller.
func (l *List_t) FreeAll(head *Region_t) {
	for cur := head; cur != nil; {
		if cur.Used {
			l.warnf("freeAll: node at %#x still marked used", cur.Start)
		}
		next := cur.next
		l.freeNode(cur)
		cur = next
	}
}

/// Clear frees this list's own chain and empties it -- used on process
/// exit.
func (l *List_t) Clear() {
	l.FreeAll(l.Head)
	l.Head = nil
}

/// Dump writes one line per region node, in address order, for
/// debugging.
func (l *List_t) Dump(w io.Writer) {
	for _, cur := range l.Nodes() {
		fmt.Fprintf(w, "region: start=%#x length=%d capacity=%d used=%v type=%d\n",
			cur.Start, cur.Length, cur.Capacity, cur.Used, cur.RegionType())
	}
}

/// Nodes returns the region list in address order. next is unexported so
/// that callers outside this package (cmd/kmstat, vm) cannot splice the
/// list themselves; this is the read-only escape hatch for diagnostics.
func (l *List_t) Nodes() []*Region_t {
	var out []*Region_t
	for cur := l.Head; cur != nil; cur = cur.next {
		out = append(out, cur)
	}
	return out
}
