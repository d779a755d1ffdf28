// Package stats provides the counter types kheap and vmregion export for
// diagnostics, adapted from biscuit's stats package (same Counter_t /
// Stats2String reflection trick, same enable-gate idiom) but counting
// allocator and region-mapper events instead of IRQs and cycles.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"
)

/// Enabled gates whether counters actually increment. It is on by default;
/// set to false, Inc/Add become no-ops and Stats2String returns "".
const Enabled = true

/// Counter_t is a statistical counter.
type Counter_t int64

/// Inc increments the counter by one.
func (c *Counter_t) Inc() {
	if Enabled {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add increments the counter by delta.
func (c *Counter_t) Add(delta int64) {
	if Enabled {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, delta)
	}
}

/// Get reads the counter's current value.
func (c *Counter_t) Get() int64 {
	n := (*int64)(unsafe.Pointer(c))
	return atomic.LoadInt64(n)
}

/// Stats2String converts a struct of Counter_t fields to a printable
/// string, one line per Counter_t field (zero-valued ones included).
func Stats2String(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
