package bitlog

import (
	"sync/atomic"
	"time"

	"code.hybscloud.com/spin"

	"github.com/bitlog-dev/bitlog/internal/queue"
)

// ThreadContext is the per-producer-goroutine logging handle: the
// owned queue, the rollover sequence, and the drop counter. A context
// belongs to exactly one goroutine; none of its methods are safe for
// concurrent use.
type ThreadContext struct {
	fe        *Frontend
	q         *queue.Queue
	retired   []*queue.Queue
	threadSeq uint64
	rollover  uint32
	dropped   atomic.Uint64
}

// ThreadSeq returns the context's dense thread sequence number.
func (c *ThreadContext) ThreadSeq() uint64 { return c.threadSeq }

// Dropped returns how many records this context discarded: under the
// BoundedDropping policy when the queue was full, and under
// BoundedBlocking when a record was larger than the whole ring. This
// counter is the primary observability signal for overload.
func (c *ThreadContext) Dropped() uint64 { return c.dropped.Load() }

// openQueue creates the queue (threadSeq, rollover) sized at least
// minCapacity (0 means the configured capacity) and makes it current.
func (c *ThreadContext) openQueue(minCapacity uint64) error {
	capacity := c.fe.cfg.QueueCapacityBytes
	if minCapacity > capacity {
		capacity = minCapacity
	}
	q, err := queue.Create(capacity, c.fe.queueStem(c.threadSeq, c.rollover), c.fe.cfg.MemoryPageSize, c.fe.cfg.BatchPercent)
	if err != nil {
		if err == queue.ErrAlreadyExists {
			return NewPathError("CREATE_QUEUE", c.fe.queueStem(c.threadSeq, c.rollover), ErrCodeAlreadyExists, err)
		}
		return WrapError("CREATE_QUEUE", err)
	}
	c.q = q
	return nil
}

// Log encodes one record on the hot path: one sizing pass over the
// arguments, a single reservation in the queue, then the header and
// the argument bytes. Queue-full is resolved by the configured policy
// and is never surfaced to the caller.
func (c *ThreadContext) Log(cs *Callsite, lg *Logger, args ...Arg) error {
	ts := uint64(time.Now().UnixNano())

	var lens [maxStringArgs]uint32
	payload := sizeArgs(args, &lens)
	size := uint64(recordHeaderSize) + uint64(payload)

	buf := c.q.PrepareWrite(size)
	if buf == nil {
		var err error
		buf, err = c.fullQueue(size)
		if err != nil || buf == nil {
			return err
		}
	}

	putRecordHeader(buf, uint32(size), cs.id, lg.id, ts)
	encodeArgs(buf[recordHeaderSize:], args, &lens)

	c.q.FinishWrite(size)
	c.q.CommitWrite()

	c.fe.metrics.RecordsWritten.Add(1)
	c.fe.metrics.BytesWritten.Add(size)
	return nil
}

// fullQueue applies the queue-full policy. It returns a non-nil buffer
// once space exists, or (nil, nil) when the record was dropped.
func (c *ThreadContext) fullQueue(size uint64) ([]byte, error) {
	switch c.fe.cfg.QueuePolicy {
	case BoundedBlocking:
		// A record larger than the ring can never fit; blocking on it
		// would never return.
		if size > c.q.Capacity() {
			c.dropped.Add(1)
			c.fe.metrics.RecordsDropped.Add(1)
			return nil, nil
		}
		sw := spin.Wait{}
		for {
			if buf := c.q.PrepareWrite(size); buf != nil {
				return buf, nil
			}
			sw.Once()
		}

	case BoundedDropping:
		c.dropped.Add(1)
		c.fe.metrics.RecordsDropped.Add(1)
		return nil, nil

	case UnboundedNoLimit:
		// Retire the full queue and roll over to a successor. The old
		// queue stays mapped and locked so the backend keeps draining
		// it; its files disappear once the backend has caught up.
		c.retired = append(c.retired, c.q)
		c.rollover++
		if err := c.openQueue(size); err != nil {
			c.q = c.retired[len(c.retired)-1]
			c.retired = c.retired[:len(c.retired)-1]
			c.rollover--
			return nil, err
		}
		c.fe.metrics.Rollovers.Add(1)
		return c.q.PrepareWrite(size), nil

	default:
		return nil, nil
	}
}

// close releases the current queue and any rolled-over predecessors.
// Called by Frontend.Close; the owning goroutine must have stopped
// logging.
func (c *ThreadContext) close() error {
	var first error
	for _, q := range c.retired {
		if err := q.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.retired = nil
	if c.q != nil {
		if err := c.q.Close(); err != nil && first == nil {
			first = err
		}
		c.q = nil
	}
	return first
}

// Close releases the context's queues. Safe to call once the owning
// goroutine has stopped logging.
func (c *ThreadContext) Close() error {
	return c.close()
}
