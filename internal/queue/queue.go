// Package queue implements the bounded single-producer single-consumer
// byte ring shared between the application process and the log backend.
// Storage lives in a file mapped twice into consecutive virtual memory,
// so a record never needs to be split across the wrap point; positions
// live in a second, fixed-size members file. Exactly one process writes
// and exactly one process reads; the producer's liveness is signalled
// by an exclusive advisory lock held for the queue's lifetime.
package queue

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bitlog-dev/bitlog/internal/cachex"
	"github.com/bitlog-dev/bitlog/internal/shm"
)

// File extensions of the four files backing one queue.
const (
	ExtData    = ".data"
	ExtMembers = ".members"
	ExtLock    = ".lock"
	ExtReady   = ".ready"
)

// Errors reported by Create and Open.
var (
	ErrAlreadyExists = errors.New("queue files already exist")
	ErrNotReady      = errors.New("queue ready marker missing")
	ErrCorrupt       = errors.New("queue members unreadable")
)

// Layout of the members file. The four position groups sit on
// separate cache-line-aligned blocks so the producer's private
// positions never share a line with the consumer's.
const (
	offCapacity       = 0
	offMask           = 8
	offBatch          = 16
	offPubWriterPos   = 128
	offWriterPos      = 256
	offFlushedWriter  = 264
	offReaderPosCache = 272
	offPubReaderPos   = 384
	offReaderPos      = 512
	offFlushedReader  = 520
	offWriterPosCache = 528

	membersSize = 640
)

// DefaultBatchPercent is the reader publish threshold as a percentage
// of capacity when the caller passes 0.
const DefaultBatchPercent = 5

// Queue is one mapped SPSC ring. A Queue value is either the producer
// end (returned by Create) or the consumer end (returned by Open);
// the two ends run in different processes.
type Queue struct {
	storage *shm.DoubleMap
	members []byte
	mem     unsafe.Pointer
	lockFd  int
	stem    string
	writer  bool
}

func (q *Queue) u64(off uintptr) *uint64 {
	return (*uint64)(unsafe.Add(q.mem, off))
}

// Create builds the four queue files under stem, maps them, and takes
// the producer liveness lock. capacity is rounded up to the page size
// and then to the next power of two. batchPercent sets the reader
// publish threshold (0 means DefaultBatchPercent).
func Create(capacity uint64, stem string, page shm.PageKind, batchPercent uint64) (*Queue, error) {
	if batchPercent == 0 {
		batchPercent = DefaultBatchPercent
	}
	capacity = shm.NextPow2(shm.RoundUp(capacity, page.Bytes()))

	dataFd, err := unix.Open(stem+ExtData, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o660)
	if err != nil {
		if err == unix.EEXIST {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("create %s%s: %w", stem, ExtData, err)
	}
	defer unix.Close(dataFd)

	if err := unix.Ftruncate(dataFd, int64(capacity)); err != nil {
		return nil, fmt.Errorf("size %s%s: %w", stem, ExtData, err)
	}

	storage, err := shm.MapDouble(dataFd, capacity, page)
	if err != nil {
		return nil, err
	}

	q := &Queue{storage: storage, stem: stem, writer: true, lockFd: -1}

	clear(storage.Slice(0, capacity))

	if err := q.createMembers(capacity, batchPercent); err != nil {
		q.Close()
		return nil, err
	}

	lockFd, err := unix.Open(stem+ExtLock, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o660)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("create %s%s: %w", stem, ExtLock, err)
	}
	q.lockFd = lockFd
	if ok, err := shm.TryLock(lockFd); err != nil || !ok {
		q.Close()
		return nil, fmt.Errorf("lock %s%s: %w", stem, ExtLock, err)
	}

	readyFd, err := unix.Open(stem+ExtReady, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o660)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("create %s%s: %w", stem, ExtReady, err)
	}
	unix.Close(readyFd)

	cachex.FlushAll(storage.Base(), capacity)

	return q, nil
}

func (q *Queue) createMembers(capacity, batchPercent uint64) error {
	fd, err := unix.Open(q.stem+ExtMembers, unix.O_CREAT|unix.O_RDWR|unix.O_EXCL, 0o660)
	if err != nil {
		return fmt.Errorf("create %s%s: %w", q.stem, ExtMembers, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, membersSize); err != nil {
		return fmt.Errorf("size %s%s: %w", q.stem, ExtMembers, err)
	}
	q.members, err = shm.MapShared(fd, membersSize)
	if err != nil {
		return err
	}
	q.mem = unsafe.Pointer(&q.members[0])

	clear(q.members)
	*q.u64(offCapacity) = capacity
	*q.u64(offMask) = capacity - 1
	*q.u64(offBatch) = capacity * batchPercent / 100
	return nil
}

// Open maps an existing queue created by another process. Positions
// resume from whatever the members file holds, so a restarted reader
// continues where it left off.
func Open(stem string, page shm.PageKind) (*Queue, error) {
	if _, err := os.Stat(stem + ExtReady); err != nil {
		return nil, ErrNotReady
	}

	dataFd, err := unix.Open(stem+ExtData, unix.O_RDWR, 0o660)
	if err != nil {
		return nil, fmt.Errorf("open %s%s: %w", stem, ExtData, err)
	}
	defer unix.Close(dataFd)

	var st unix.Stat_t
	if err := unix.Fstat(dataFd, &st); err != nil {
		return nil, fmt.Errorf("stat %s%s: %w", stem, ExtData, err)
	}

	storage, err := shm.MapDouble(dataFd, uint64(st.Size), page)
	if err != nil {
		return nil, err
	}
	q := &Queue{storage: storage, stem: stem, lockFd: -1}

	memFd, err := unix.Open(stem+ExtMembers, unix.O_RDWR, 0o660)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("open %s%s: %w", stem, ExtMembers, err)
	}
	q.members, err = shm.MapShared(memFd, membersSize)
	unix.Close(memFd)
	if err != nil {
		q.Close()
		return nil, err
	}
	q.mem = unsafe.Pointer(&q.members[0])

	capacity := *q.u64(offCapacity)
	if capacity == 0 || capacity&(capacity-1) != 0 || *q.u64(offMask) != capacity-1 || capacity != uint64(st.Size) {
		q.Close()
		return nil, ErrCorrupt
	}

	lockFd, err := unix.Open(stem+ExtLock, unix.O_RDWR, 0o660)
	if err != nil {
		q.Close()
		return nil, fmt.Errorf("open %s%s: %w", stem, ExtLock, err)
	}
	q.lockFd = lockFd

	return q, nil
}

// Capacity returns the ring capacity in bytes.
func (q *Queue) Capacity() uint64 { return *q.u64(offCapacity) }

// PrepareWrite reserves n contiguous writable bytes, or nil when the
// ring lacks space. It consults the local reader-position cache first
// and touches the shared atomic only on the slow path.
func (q *Queue) PrepareWrite(n uint64) []byte {
	capacity := *q.u64(offCapacity)
	writerPos := *q.u64(offWriterPos)

	if capacity-(writerPos-*q.u64(offReaderPosCache)) < n {
		*q.u64(offReaderPosCache) = atomic.LoadUint64(q.u64(offPubReaderPos))
		if capacity-(writerPos-*q.u64(offReaderPosCache)) < n {
			return nil
		}
	}
	return q.storage.Slice(writerPos&*q.u64(offMask), n)
}

// FinishWrite advances the producer's private position by n.
func (q *Queue) FinishWrite(n uint64) {
	*q.u64(offWriterPos) += n
}

// CommitWrite publishes the private writer position to the consumer.
func (q *Queue) CommitWrite() {
	pos := *q.u64(offWriterPos)
	atomic.StoreUint64(q.u64(offPubWriterPos), pos)

	if cachex.Enabled {
		mask := *q.u64(offMask)
		cachex.FlushRange(q.storage.Base(), mask, q.u64(offFlushedWriter), pos)
		cachex.PrefetchAhead(q.storage.Base(), mask, pos, 10)
	}
}

// PrepareRead returns all currently readable bytes, or nil when the
// ring is empty. The slice is contiguous even across the wrap point;
// the caller determines record boundaries from the record headers.
func (q *Queue) PrepareRead() []byte {
	readerPos := *q.u64(offReaderPos)

	if *q.u64(offWriterPosCache) == readerPos {
		*q.u64(offWriterPosCache) = atomic.LoadUint64(q.u64(offPubWriterPos))
		if *q.u64(offWriterPosCache) == readerPos {
			return nil
		}
	}
	return q.storage.Slice(readerPos&*q.u64(offMask), *q.u64(offWriterPosCache)-readerPos)
}

// FinishRead advances the consumer's private position by n.
func (q *Queue) FinishRead(n uint64) {
	*q.u64(offReaderPos) += n
}

// CommitRead publishes the consumer position once a batch threshold of
// unpublished progress has accumulated, amortizing the shared store.
func (q *Queue) CommitRead() {
	pos := *q.u64(offReaderPos)
	if pos-atomic.LoadUint64(q.u64(offPubReaderPos)) >= *q.u64(offBatch) {
		atomic.StoreUint64(q.u64(offPubReaderPos), pos)
		if cachex.Enabled {
			cachex.FlushRange(q.storage.Base(), *q.u64(offMask), q.u64(offFlushedReader), pos)
		}
	}
}

// Empty reports whether every committed byte has been consumed.
// Consumer-side call.
func (q *Queue) Empty() bool {
	return *q.u64(offReaderPos) == atomic.LoadUint64(q.u64(offPubWriterPos))
}

// CreatorAlive reports whether the producer process still holds the
// queue's liveness lock. A successful non-blocking acquisition means
// the producer is dead; the probe releases the lock again so the check
// can be repeated.
func (q *Queue) CreatorAlive() (bool, error) {
	ok, err := shm.TryLock(q.lockFd)
	if err != nil {
		return false, err
	}
	if ok {
		if err := shm.Unlock(q.lockFd); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Close releases the mappings and, for the producer end, the liveness
// lock. The files stay on disk; RemoveFiles deletes them.
func (q *Queue) Close() error {
	var first error
	if q.storage != nil {
		if err := q.storage.Close(); err != nil && first == nil {
			first = err
		}
		q.storage = nil
	}
	if q.members != nil {
		if err := shm.UnmapShared(q.members); err != nil && first == nil {
			first = err
		}
		q.members = nil
		q.mem = nil
	}
	if q.lockFd >= 0 {
		if q.writer {
			_ = shm.Unlock(q.lockFd)
		}
		unix.Close(q.lockFd)
		q.lockFd = -1
	}
	return first
}

// Stem returns the path prefix of the queue's files.
func (q *Queue) Stem() string { return q.stem }

// RemoveFiles deletes the four files of the queue with the given stem.
// Every removal is attempted; the first error is returned.
func RemoveFiles(stem string) error {
	var first error
	for _, ext := range []string{ExtData, ExtMembers, ExtReady, ExtLock} {
		if err := os.Remove(stem + ext); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}
