//go:build amd64 && x86cacheopt

package cachex

import "unsafe"

// Enabled reports whether the cache-coherence optimization is compiled in.
const Enabled = true

//go:noescape
func clflushopt(p unsafe.Pointer)

//go:noescape
func clflush(p unsafe.Pointer)

//go:noescape
func prefetcht0(p unsafe.Pointer)
