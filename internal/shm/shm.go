// Package shm provides the shared-memory primitives the queue and the
// catalogs are built on: shm-root resolution, page-size handling,
// advisory file locks, and the double mapping of a file into two
// consecutive virtual ranges.
package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PageKind selects the page size used when mapping queue storage.
type PageKind uint32

const (
	RegularPage PageKind = 0
	HugePage2MB PageKind = 2 * 1024 * 1024
	HugePage1GB PageKind = 1024 * 1024 * 1024
)

func (p PageKind) String() string {
	switch p {
	case RegularPage:
		return "RegularPage"
	case HugePage2MB:
		return "HugePage2MB"
	case HugePage1GB:
		return "HugePage1GB"
	default:
		return fmt.Sprintf("PageKind(%d)", uint32(p))
	}
}

// Bytes returns the effective page size in bytes for this kind.
func (p PageKind) Bytes() uint64 {
	if p == RegularPage {
		return uint64(os.Getpagesize())
	}
	return uint64(p)
}

// mmapFlags returns the extra mmap flags needed for this page kind.
// MAP_SHARED is always included by the callers.
func (p PageKind) mmapFlags() int {
	switch p {
	case HugePage2MB:
		return unix.MAP_HUGETLB | unix.MAP_HUGE_2MB
	case HugePage1GB:
		return unix.MAP_HUGETLB | unix.MAP_HUGE_1GB
	default:
		return 0
	}
}

// RoundUp rounds value up to the nearest multiple of to.
func RoundUp(value, to uint64) uint64 {
	return ((value + to - 1) / to) * to
}

// NextPow2 returns the smallest power of two >= v.
func NextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// ResolveRoot returns the shared-memory root directory. An explicit
// override wins; otherwise the first of /dev/shm, /tmp that exists.
func ResolveRoot(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("shm root %s: %w", override, err)
		}
		return override, nil
	}
	for _, dir := range []string{"/dev/shm", "/tmp"} {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no shared-memory root available")
}

// TryLock attempts to take the exclusive advisory lock on fd without
// blocking. It returns (false, nil) when another process holds it.
func TryLock(fd int) (bool, error) {
	err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == unix.EWOULDBLOCK {
		return false, nil
	}
	return false, err
}

// Unlock releases the advisory lock on fd.
func Unlock(fd int) error {
	return unix.Flock(fd, unix.LOCK_UN|unix.LOCK_NB)
}

// LockBlocking takes the exclusive advisory lock, spinning past
// EWOULDBLOCK. Used for the short-lived catalog-file locks.
func LockBlocking(fd int) error {
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK {
			return err
		}
	}
}
