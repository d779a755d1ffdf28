// Package res tracks how many heap nodes a single kheap/vmregion
// transaction has provisionally reserved, refusing new work before any
// list mutation happens rather than unwinding a half-built list -- the
// same res.Resadd_noblock/-defs.ENOHEAP idiom biscuit's vm package uses
// at user-memory access sites.
package res

import "sync/atomic"

/// Tracker_t enforces a ceiling on outstanding heap-node reservations.
/// The zero value is usable and unbounded (Limit == 0 means "no ceiling"),
/// matching a kernel build with accounting disabled.
type Tracker_t struct {
	Limit    int32
	reserved int32
}

/// Resadd_noblock reserves n heap nodes without blocking -- this core has
/// no suspension points, so "noblock" only means "return false instead of
/// waiting" when the ceiling would be exceeded.
func (t *Tracker_t) Resadd_noblock(n int) bool {
	if n == 0 {
		return true
	}
	if t.Limit == 0 {
		atomic.AddInt32(&t.reserved, int32(n))
		return true
	}
	for {
		cur := atomic.LoadInt32(&t.reserved)
		next := cur + int32(n)
		if next > t.Limit {
			return false
		}
		if atomic.CompareAndSwapInt32(&t.reserved, cur, next) {
			return true
		}
	}
}

/// Resdec releases n previously reserved heap nodes. Called on both the
/// success and rollback paths of every kheap/vmregion entry point.
func (t *Tracker_t) Resdec(n int) {
	if n == 0 {
		return
	}
	if atomic.AddInt32(&t.reserved, -int32(n)) < 0 {
		panic("res: negative reservation")
	}
}

/// Reserved reports the current outstanding reservation, for tests and
/// stats.
func (t *Tracker_t) Reserved() int {
	return int(atomic.LoadInt32(&t.reserved))
}
