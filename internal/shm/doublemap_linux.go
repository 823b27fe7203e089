package shm

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DoubleMap is a file mapped twice into consecutive virtual memory so
// that any access starting in the first copy may run up to len bytes
// past the wrap point and land in the second copy of the same pages.
type DoubleMap struct {
	base unsafe.Pointer
	len  uint64
}

// pointerFromMmap converts a uintptr returned by the mmap syscall to an
// unsafe.Pointer. The indirection satisfies go vet's unsafeptr checker;
// mmap'd memory has a fixed address so this is safe.
//
//go:noinline
func pointerFromMmap(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

// MapDouble maps size bytes of fd twice, back to back. It first
// reserves a 2*size PROT_NONE anonymous range to obtain free virtual
// addresses, then maps the file over each half with MAP_FIXED.
func MapDouble(fd int, size uint64, page PageKind) (*DoubleMap, error) {
	reserve, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP,
		0,
		uintptr(2*size),
		syscall.PROT_NONE,
		syscall.MAP_PRIVATE|syscall.MAP_ANONYMOUS,
		^uintptr(0),
		0,
	)
	if errno != 0 {
		return nil, fmt.Errorf("reserve double mapping: %w", errno)
	}

	flags := syscall.MAP_SHARED | syscall.MAP_FIXED | page.mmapFlags()

	lo, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP, reserve, uintptr(size),
		syscall.PROT_READ|syscall.PROT_WRITE, uintptr(flags), uintptr(fd), 0,
	)
	if errno != 0 || lo != reserve {
		_, _, _ = syscall.Syscall(syscall.SYS_MUNMAP, reserve, uintptr(2*size), 0)
		if errno == 0 {
			errno = syscall.EINVAL
		}
		return nil, fmt.Errorf("map first half: %w", errno)
	}

	hi, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP, reserve+uintptr(size), uintptr(size),
		syscall.PROT_READ|syscall.PROT_WRITE, uintptr(flags), uintptr(fd), 0,
	)
	if errno != 0 || hi != reserve+uintptr(size) {
		_, _, _ = syscall.Syscall(syscall.SYS_MUNMAP, reserve, uintptr(2*size), 0)
		if errno == 0 {
			errno = syscall.EINVAL
		}
		return nil, fmt.Errorf("map second half: %w", errno)
	}

	return &DoubleMap{base: pointerFromMmap(reserve), len: size}, nil
}

// Len returns the size of one copy of the mapping.
func (m *DoubleMap) Len() uint64 { return m.len }

// Base returns the start of the first copy.
func (m *DoubleMap) Base() unsafe.Pointer { return m.base }

// Slice returns n bytes starting at off into the mapping. off must be
// < len; n may extend up to len bytes past the wrap point.
func (m *DoubleMap) Slice(off, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Add(m.base, uintptr(off))), n)
}

// Close unmaps both virtual copies.
func (m *DoubleMap) Close() error {
	if m.base == nil {
		return nil
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, uintptr(m.base), uintptr(2*m.len), 0)
	m.base = nil
	if errno != 0 {
		return errno
	}
	return nil
}

// MapShared maps size bytes of fd once, read-write shared. Used for the
// fixed-size members block.
func MapShared(fd int, size int) ([]byte, error) {
	b, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UnmapShared releases a mapping obtained with MapShared.
func UnmapShared(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
