package bitlog

import "encoding/binary"

// Record wire layout. Little-endian, 1-byte alignment:
//
//	total_size   u32  (includes the header itself)
//	call_site_id u32
//	logger_id    u32
//	timestamp_ns u64
//	payload      per call-site type descriptors
const recordHeaderSize = 20

// recordHeader is the decoded fixed part of one wire record.
type recordHeader struct {
	total     uint32
	callsite  uint32
	logger    uint32
	timestamp uint64
}

// putRecordHeader marshals the record header into buf.
func putRecordHeader(buf []byte, total, callsite, logger uint32, timestamp uint64) {
	binary.LittleEndian.PutUint32(buf[0:4], total)
	binary.LittleEndian.PutUint32(buf[4:8], callsite)
	binary.LittleEndian.PutUint32(buf[8:12], logger)
	binary.LittleEndian.PutUint64(buf[12:20], timestamp)
}

// parseRecordHeader unmarshals a record header from b. It reports
// false when b is too short to hold one.
func parseRecordHeader(b []byte) (recordHeader, bool) {
	if len(b) < recordHeaderSize {
		return recordHeader{}, false
	}
	return recordHeader{
		total:     binary.LittleEndian.Uint32(b[0:4]),
		callsite:  binary.LittleEndian.Uint32(b[4:8]),
		logger:    binary.LittleEndian.Uint32(b[8:12]),
		timestamp: binary.LittleEndian.Uint64(b[12:20]),
	}, true
}
