package bitlog

import (
	"encoding/binary"
	"math"
)

// maxStringArgs bounds the per-call scratch array holding scouted
// string lengths. RegisterCallsite rejects call sites that exceed it.
const maxStringArgs = 32

// Arg is one logging argument: a type descriptor plus its value. Args
// are passed by value on the hot path and never allocate for numeric
// types.
type Arg struct {
	desc TypeDescriptor
	num  uint64 // numeric bits (two's complement / IEEE754)
	str  string // CString / StdString content
	raw  []byte // CStringArray backing array
}

// Numeric constructors. The descriptor fixes the wire width, matching
// the C type the descriptor is named after.

func Char(v byte) Arg     { return Arg{desc: TypeChar, num: uint64(v)} }
func Int8(v int8) Arg     { return Arg{desc: TypeSignedChar, num: uint64(uint8(v))} }
func Uint8(v uint8) Arg   { return Arg{desc: TypeUnsignedChar, num: uint64(v)} }
func Short(v int16) Arg   { return Arg{desc: TypeShortInt, num: uint64(uint16(v))} }
func UShort(v uint16) Arg { return Arg{desc: TypeUnsignedShortInt, num: uint64(v)} }
func Int(v int32) Arg     { return Arg{desc: TypeInt, num: uint64(uint32(v))} }
func Uint(v uint32) Arg   { return Arg{desc: TypeUnsignedInt, num: uint64(v)} }
func Long(v int64) Arg    { return Arg{desc: TypeLongInt, num: uint64(v)} }
func ULong(v uint64) Arg  { return Arg{desc: TypeUnsignedLongInt, num: v} }
func LongLong(v int64) Arg {
	return Arg{desc: TypeLongLongInt, num: uint64(v)}
}
func ULongLong(v uint64) Arg {
	return Arg{desc: TypeUnsignedLongLongInt, num: v}
}
func Float32(v float32) Arg {
	return Arg{desc: TypeFloat, num: uint64(math.Float32bits(v))}
}
func Float64(v float64) Arg {
	return Arg{desc: TypeDouble, num: math.Float64bits(v)}
}

// CStr is a null-terminated string: the terminator travels on the wire
// and the decoder recovers the length by scanning for it.
func CStr(s string) Arg { return Arg{desc: TypeCString, str: s} }

// CArray is a fixed char array, possibly without a terminator: the
// wire form is a length prefix plus the content up to the first NUL.
func CArray(b []byte) Arg { return Arg{desc: TypeCStringArray, raw: b} }

// Str is a length-prefixed string of arbitrary content.
func Str(s string) Arg { return Arg{desc: TypeStdString, str: s} }

// Desc returns the argument's type descriptor.
func (a Arg) Desc() TypeDescriptor { return a.desc }

// Int64 returns the value of a signed numeric argument.
func (a Arg) Int64() int64 {
	switch a.desc {
	case TypeSignedChar:
		return int64(int8(a.num))
	case TypeShortInt:
		return int64(int16(a.num))
	case TypeInt:
		return int64(int32(a.num))
	default:
		return int64(a.num)
	}
}

// Uint64 returns the value of an unsigned numeric argument.
func (a Arg) Uint64() uint64 { return a.num }

// Float returns the value of a Float or Double argument.
func (a Arg) Float() float64 {
	if a.desc == TypeFloat {
		return float64(math.Float32frombits(uint32(a.num)))
	}
	return math.Float64frombits(a.num)
}

// Str returns the content of a string-ish argument. For a CStringArray
// this is the scanned prefix up to the first NUL.
func (a Arg) Str() string {
	if a.desc == TypeCStringArray && a.raw != nil {
		return string(a.raw[:scanLen(a.raw)])
	}
	return a.str
}

// Value returns the argument as a plain Go value for formatting.
func (a Arg) Value() any {
	switch a.desc {
	case TypeChar, TypeUnsignedChar, TypeUnsignedShortInt, TypeUnsignedInt,
		TypeUnsignedLongInt, TypeUnsignedLongLongInt:
		return a.Uint64()
	case TypeSignedChar, TypeShortInt, TypeInt, TypeLongInt, TypeLongLongInt:
		return a.Int64()
	case TypeFloat, TypeDouble:
		return a.Float()
	case TypeCString, TypeCStringArray, TypeStdString:
		return a.Str()
	default:
		return nil
	}
}

// scanLen is strnlen over a fixed char array.
func scanLen(b []byte) uint32 {
	for i, c := range b {
		if c == 0 {
			return uint32(i)
		}
	}
	return uint32(len(b))
}

// cstrLen is strlen+1 over a Go string standing in for a C string: the
// wire form includes the terminator, and content past an embedded NUL
// never travels.
func cstrLen(s string) uint32 {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return uint32(i) + 1
		}
	}
	return uint32(len(s)) + 1
}

// sizeArgs performs the single sizing pass: it returns the total
// payload size and scouts each string-ish argument's length into lens
// so the copy pass never re-scans.
func sizeArgs(args []Arg, lens *[maxStringArgs]uint32) uint32 {
	var total uint32
	li := 0
	for i := range args {
		a := &args[i]
		switch a.desc {
		case TypeCString:
			lens[li] = cstrLen(a.str)
			total += lens[li]
			li++
		case TypeCStringArray:
			lens[li] = scanLen(a.raw)
			total += 4 + lens[li]
			li++
		case TypeStdString:
			lens[li] = uint32(len(a.str))
			total += 4 + lens[li]
			li++
		default:
			total += a.desc.fixedWidth()
		}
	}
	return total
}

// encodeArgs performs the copy pass, using the lengths scouted by
// sizeArgs. buf must be exactly the size sizeArgs returned.
func encodeArgs(buf []byte, args []Arg, lens *[maxStringArgs]uint32) {
	off := uint32(0)
	li := 0
	for i := range args {
		a := &args[i]
		switch a.desc {
		case TypeCString:
			n := lens[li]
			li++
			copy(buf[off:], a.str[:n-1])
			buf[off+n-1] = 0
			off += n
		case TypeCStringArray:
			n := lens[li]
			li++
			binary.LittleEndian.PutUint32(buf[off:], n)
			copy(buf[off+4:], a.raw[:n])
			off += 4 + n
		case TypeStdString:
			n := lens[li]
			li++
			binary.LittleEndian.PutUint32(buf[off:], n)
			copy(buf[off+4:], a.str)
			off += 4 + n
		default:
			switch a.desc.fixedWidth() {
			case 1:
				buf[off] = byte(a.num)
				off++
			case 2:
				binary.LittleEndian.PutUint16(buf[off:], uint16(a.num))
				off += 2
			case 4:
				binary.LittleEndian.PutUint32(buf[off:], uint32(a.num))
				off += 4
			case 8:
				binary.LittleEndian.PutUint64(buf[off:], a.num)
				off += 8
			}
		}
	}
}
