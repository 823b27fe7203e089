package bitlog

import (
	"sync"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

// CollectedRecord is one record captured by CollectHandler.
type CollectedRecord struct {
	Stmt        *Statement
	Logger      *LoggerInfo
	TimestampNs uint64
	Args        []Arg
}

// CollectedRaw is one undecodable record captured by CollectHandler
// from a poisoned instance.
type CollectedRaw struct {
	CallsiteID  uint32
	LoggerID    uint32
	TimestampNs uint64
	Data        []byte
}

// CollectHandler is an in-memory Handler that keeps everything it
// receives. It is useful for tests of applications that embed a
// backend, and for this module's own tests.
type CollectHandler struct {
	mu      sync.Mutex
	records []CollectedRecord
	raw     []CollectedRaw
}

// NewCollectHandler creates an empty collector.
func NewCollectHandler() *CollectHandler {
	return &CollectHandler{}
}

// HandleRecord implements Handler.
func (h *CollectHandler) HandleRecord(stmt *Statement, logger *LoggerInfo, timestampNs uint64, args []Arg) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, CollectedRecord{
		Stmt:        stmt,
		Logger:      logger,
		TimestampNs: timestampNs,
		Args:        args,
	})
}

// HandleRaw implements RawHandler. The data slice is only valid during
// the call, so it is copied.
func (h *CollectHandler) HandleRaw(callsiteID, loggerID uint32, timestampNs uint64, data []byte) {
	buf := dirtmake.Bytes(len(data), len(data))
	copy(buf, data)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.raw = append(h.raw, CollectedRaw{
		CallsiteID:  callsiteID,
		LoggerID:    loggerID,
		TimestampNs: timestampNs,
		Data:        buf,
	})
}

// Records returns a copy of everything collected so far.
func (h *CollectHandler) Records() []CollectedRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CollectedRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Raw returns a copy of the raw records collected so far.
func (h *CollectHandler) Raw() []CollectedRaw {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CollectedRaw, len(h.raw))
	copy(out, h.raw)
	return out
}

// Len returns how many decoded records have been collected.
func (h *CollectHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

// Reset discards everything collected.
func (h *CollectHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.raw = nil
}
