//go:build !amd64 || !x86cacheopt

package cachex

import "unsafe"

// Enabled reports whether the cache-coherence optimization is compiled in.
const Enabled = false

func clflushopt(unsafe.Pointer) {}
func clflush(unsafe.Pointer)    {}
func prefetcht0(unsafe.Pointer) {}
