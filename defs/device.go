package defs

// D_PROF is the profiling device number cmd/kmstat tags its pprof dumps
// with. The teacher's device table carried a dozen device numbers
// (console, unix sockets, raw disk, ...); none of the others name
// anything this core touches, so only this one survives the port.
const D_PROF int = 7
