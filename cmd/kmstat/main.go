// Command kmstat drives a small scripted HeapAllocator/RegionMapper
// workload and dumps it as a gzip-compressed pprof profile (one sample
// per live region node, weighted by byte length), alongside the heap's
// Stats2String counters on stderr. It exists to give github.com/google/
// pprof's profile.Profile writer a concrete home in this module, the way
// biscuit's own tools (misc/depgraph) are small stdlib/pprof-adjacent
// diagnostics rather than part of the kernel's hot path.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/pprof/profile"

	"kmemvm/defs"
	"kmemvm/kheap"
	"kmemvm/mem"
	"kmemvm/stats"
	"kmemvm/vm"
)

func main() {
	out := flag.String("o", "kmstat.pprof.gz", "profile output path")
	flag.Parse()

	fp := &mem.FramePool_t{}
	defer fp.Close()
	heap := &kheap.Heap_t{Frame: fp}
	pt := &vm.FakePageTableMapper{}
	as := vm.NewAddressSpace(heap, pt, 0x4000)

	run(as)

	fmt.Fprint(os.Stderr, stats.Stats2String(heap.Stats))
	fmt.Fprint(os.Stderr, stats.Stats2String(as.Regions.Stats))

	p := snapshot(as)
	f, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "kmstat:", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := p.Write(f); err != nil {
		fmt.Fprintln(os.Stderr, "kmstat:", err)
		os.Exit(1)
	}
}

// run exercises the region mapper with a short scripted workload: grow,
// punch a hole, fill part of it back in.
func run(as *vm.AddressSpace_t) {
	as.Sys_mmap(0, 0x2000, 0, 0, -1, 0)
	as.Sys_mmap(0, 0x1000, 0, 0, -1, 0)
	as.Sys_munmap(0x4000, 0x2000)
	as.Sys_mmap(0x4800, 0x1000, 0, 0, -1, 0)
}

// snapshot turns the live region list into a pprof profile: one sample
// per node, value[0] = count, value[1] = bytes, labelled by address and
// used/free state.
func snapshot(as *vm.AddressSpace_t) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "regions", Unit: "count"},
			{Type: "span", Unit: "bytes"},
		},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
		Comments:   []string{fmt.Sprintf("device=%d", defs.D_PROF)},
	}

	for id, cur := range as.Regions.Nodes() {
		state := "free"
		if cur.Used {
			state = "used"
		}
		fnID := uint64(id) + 1
		fn := &profile.Function{
			ID:   fnID,
			Name: fmt.Sprintf("region@%#x[%s]", cur.Start, state),
		}
		loc := &profile.Location{
			ID:   fnID,
			Line: []profile.Line{{Function: fn}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1, int64(cur.Length)},
			Label: map[string][]string{
				"start": {fmt.Sprintf("%#x", cur.Start)},
				"state": {state},
			},
		})
	}
	return p
}
