package bitlog

import (
	"encoding/binary"
	"fmt"
)

// decodeArgs reverses the argument encoding: it walks payload under
// the call site's declared descriptors and produces the typed values.
// Any inconsistency (unknown descriptor, length past the record end,
// missing terminator) marks the whole record corrupt; the caller skips
// it using the header's total size.
func decodeArgs(payload []byte, types []TypeDescriptor) ([]Arg, error) {
	args := make([]Arg, 0, len(types))
	off := uint32(0)
	n := uint32(len(payload))

	for _, t := range types {
		switch t {
		case TypeCString:
			end := off
			for end < n && payload[end] != 0 {
				end++
			}
			if end == n {
				return nil, NewError("DECODE", ErrCodeCorruptRecord, "unterminated c string")
			}
			args = append(args, Arg{desc: t, str: string(payload[off:end])})
			off = end + 1

		case TypeCStringArray, TypeStdString:
			if off+4 > n {
				return nil, NewError("DECODE", ErrCodeCorruptRecord, "string length past record end")
			}
			l := binary.LittleEndian.Uint32(payload[off:])
			off += 4
			if off+l > n || off+l < off {
				return nil, NewError("DECODE", ErrCodeCorruptRecord, "string content past record end")
			}
			args = append(args, Arg{desc: t, str: string(payload[off : off+l])})
			off += l

		default:
			w := t.fixedWidth()
			if w == 0 {
				return nil, NewError("DECODE", ErrCodeCorruptRecord, fmt.Sprintf("unknown type descriptor %d", uint8(t)))
			}
			if off+w > n {
				return nil, NewError("DECODE", ErrCodeCorruptRecord, "value past record end")
			}
			var v uint64
			switch w {
			case 1:
				v = uint64(payload[off])
			case 2:
				v = uint64(binary.LittleEndian.Uint16(payload[off:]))
			case 4:
				v = uint64(binary.LittleEndian.Uint32(payload[off:]))
			case 8:
				v = binary.LittleEndian.Uint64(payload[off:])
			}
			args = append(args, Arg{desc: t, num: v})
			off += w
		}
	}

	if off != n {
		return nil, NewError("DECODE", ErrCodeCorruptRecord, "trailing bytes after last argument")
	}
	return args, nil
}
