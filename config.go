package bitlog

import (
	"fmt"

	"github.com/bitlog-dev/bitlog/internal/shm"
)

// DefaultQueueCapacity is the base queue capacity in bytes before
// page-size and power-of-two rounding.
const DefaultQueueCapacity = 131072

// Config carries the per-frontend configuration. The zero value is not
// usable; ApplicationID is required.
type Config struct {
	// ApplicationID names the directory under the shared-memory root.
	ApplicationID string

	// QueueCapacityBytes is the base capacity of each thread queue
	// before rounding. Default DefaultQueueCapacity.
	QueueCapacityBytes uint64

	// MemoryPageSize selects regular or huge pages for queue storage.
	MemoryPageSize shm.PageKind

	// QueuePolicy selects the behavior when a queue is full.
	QueuePolicy QueuePolicy

	// BatchPercent is the reader commit threshold as a percentage of
	// capacity. Default 5.
	BatchPercent uint64

	// ShmRootOverride replaces the /dev/shm, /tmp autodetection.
	ShmRootOverride string
}

// withDefaults fills unset fields and validates the rest.
func (c Config) withDefaults() (Config, error) {
	if c.ApplicationID == "" {
		return c, NewError("CONFIG", ErrCodePath, "application id is required")
	}
	if c.QueueCapacityBytes == 0 {
		c.QueueCapacityBytes = DefaultQueueCapacity
	}
	if c.BatchPercent == 0 {
		c.BatchPercent = 5
	}
	if c.BatchPercent >= 100 {
		return c, NewError("CONFIG", ErrCodePath, fmt.Sprintf("batch percent %d out of range", c.BatchPercent))
	}
	switch c.MemoryPageSize {
	case shm.RegularPage, shm.HugePage2MB, shm.HugePage1GB:
	default:
		return c, NewError("CONFIG", ErrCodePath, fmt.Sprintf("unsupported page size %d", c.MemoryPageSize))
	}
	return c, nil
}
