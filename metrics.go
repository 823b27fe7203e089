package bitlog

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a frontend or a backend.
// All fields are updated with atomics and may be read at any time.
type Metrics struct {
	// Frontend counters
	RecordsWritten atomic.Uint64 // Records committed to a queue
	RecordsDropped atomic.Uint64 // Records dropped (BoundedDropping, or oversized under BoundedBlocking)
	BytesWritten   atomic.Uint64 // Record bytes committed
	Rollovers      atomic.Uint64 // Successor queues created

	// Backend counters
	RecordsDelivered atomic.Uint64 // Records handed to the Handler
	BytesDrained     atomic.Uint64 // Record bytes consumed
	CorruptRecords   atomic.Uint64 // Records skipped as corrupt
	QueuesRetired    atomic.Uint64 // Queues removed from disk
	InstancesRetired atomic.Uint64 // Instance directories removed

	// Lifecycle
	StartTime atomic.Int64 // Creation timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	RecordsWritten   uint64
	RecordsDropped   uint64
	BytesWritten     uint64
	Rollovers        uint64
	RecordsDelivered uint64
	BytesDrained     uint64
	CorruptRecords   uint64
	QueuesRetired    uint64
	InstancesRetired uint64
}

// Snapshot returns a consistent-enough copy of the counters for
// reporting. Individual loads are atomic; the set is not.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RecordsWritten:   m.RecordsWritten.Load(),
		RecordsDropped:   m.RecordsDropped.Load(),
		BytesWritten:     m.BytesWritten.Load(),
		Rollovers:        m.Rollovers.Load(),
		RecordsDelivered: m.RecordsDelivered.Load(),
		BytesDrained:     m.BytesDrained.Load(),
		CorruptRecords:   m.CorruptRecords.Load(),
		QueuesRetired:    m.QueuesRetired.Load(),
		InstancesRetired: m.InstancesRetired.Load(),
	}
}
