// Package cachex holds the optional x86 cache-coherence helpers used by
// the queue on commit: flushing freshly written lines out of the
// producer's cache and prefetching lines the producer is about to
// write. Enabled with the x86cacheopt build tag on amd64; everywhere
// else the calls compile to no-ops and the queue behaves identically
// except for cache residency.
package cachex

import "unsafe"

// LineSize is the assumed cache line size in bytes.
const LineSize = 64

// LineMask masks an offset down to its cache line boundary.
const LineMask = LineSize - 1

// FlushRange flushes every cache line between *last and pos, advancing
// *last to the flushed boundary. base is the start of the (double
// mapped) storage and mask its capacity-1 wrap mask.
func FlushRange(base unsafe.Pointer, mask uint64, last *uint64, pos uint64) {
	if !Enabled {
		return
	}
	lastLine := *last - (*last & LineMask)
	curLine := pos - (pos & LineMask)
	for curLine > lastLine {
		clflushopt(unsafe.Add(base, uintptr(lastLine&mask)))
		lastLine += LineSize
		*last = lastLine
	}
}

// PrefetchAhead prefetches the line `lines` cache lines past pos.
func PrefetchAhead(base unsafe.Pointer, mask, pos uint64, lines int) {
	if !Enabled {
		return
	}
	prefetcht0(unsafe.Add(base, uintptr((pos&mask)+uint64(lines*LineSize))))
}

// FlushAll evicts the whole storage region (both virtual copies) and
// warms the first few lines. Called once at queue creation.
func FlushAll(base unsafe.Pointer, size uint64) {
	if !Enabled {
		return
	}
	for i := uint64(0); i < 2*size; i += LineSize {
		clflush(unsafe.Add(base, uintptr(i)))
	}
	const warmLines = 16
	for i := 0; i < warmLines; i++ {
		prefetcht0(unsafe.Add(base, uintptr(i*LineSize)))
	}
}
