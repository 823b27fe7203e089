package bitlog

import "fmt"

// LogLevel is the severity attached to a call site.
type LogLevel uint8

const (
	LevelTraceL3 LogLevel = iota
	LevelTraceL2
	LevelTraceL1
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
	LevelNone
)

func (l LogLevel) String() string {
	switch l {
	case LevelTraceL3:
		return "TRACE_L3"
	case LevelTraceL2:
		return "TRACE_L2"
	case LevelTraceL1:
		return "TRACE_L1"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	case LevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("LogLevel(%d)", uint8(l))
	}
}

// TypeDescriptor tags how one argument is laid out on the wire. The
// numeric values are part of the on-disk catalog format and must not
// be reordered.
type TypeDescriptor uint8

const (
	TypeNone TypeDescriptor = iota
	TypeChar
	TypeSignedChar
	TypeUnsignedChar
	TypeShortInt
	TypeUnsignedShortInt
	TypeInt
	TypeUnsignedInt
	TypeLongInt
	TypeUnsignedLongInt
	TypeLongLongInt
	TypeUnsignedLongLongInt
	TypeFloat
	TypeDouble
	TypeCString
	TypeCStringArray
	TypeStdString
)

func (t TypeDescriptor) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeChar:
		return "Char"
	case TypeSignedChar:
		return "SignedChar"
	case TypeUnsignedChar:
		return "UnsignedChar"
	case TypeShortInt:
		return "ShortInt"
	case TypeUnsignedShortInt:
		return "UnsignedShortInt"
	case TypeInt:
		return "Int"
	case TypeUnsignedInt:
		return "UnsignedInt"
	case TypeLongInt:
		return "LongInt"
	case TypeUnsignedLongInt:
		return "UnsignedLongInt"
	case TypeLongLongInt:
		return "LongLongInt"
	case TypeUnsignedLongLongInt:
		return "UnsignedLongLongInt"
	case TypeFloat:
		return "Float"
	case TypeDouble:
		return "Double"
	case TypeCString:
		return "CString"
	case TypeCStringArray:
		return "CStringArray"
	case TypeStdString:
		return "StdString"
	default:
		return fmt.Sprintf("TypeDescriptor(%d)", uint8(t))
	}
}

// fixedWidth returns the wire width of fixed-size descriptors, or 0
// for the string-ish ones.
func (t TypeDescriptor) fixedWidth() uint32 {
	switch t {
	case TypeChar, TypeSignedChar, TypeUnsignedChar:
		return 1
	case TypeShortInt, TypeUnsignedShortInt:
		return 2
	case TypeInt, TypeUnsignedInt, TypeFloat:
		return 4
	case TypeLongInt, TypeUnsignedLongInt, TypeLongLongInt, TypeUnsignedLongLongInt, TypeDouble:
		return 8
	default:
		return 0
	}
}

// stringish reports whether the descriptor carries variable-length
// content whose length is scouted in the sizing pass.
func (t TypeDescriptor) stringish() bool {
	switch t {
	case TypeCString, TypeCStringArray, TypeStdString:
		return true
	default:
		return false
	}
}

// QueuePolicy selects what a producer does when its queue is full.
type QueuePolicy uint8

const (
	// BoundedBlocking spins with a short backoff until space appears.
	// A record larger than the whole ring is counted as dropped.
	BoundedBlocking QueuePolicy = iota
	// BoundedDropping counts the record as dropped and returns.
	BoundedDropping
	// UnboundedNoLimit retires the full queue and rolls over to a
	// fresh one with an incremented rollover sequence.
	UnboundedNoLimit
)

func (p QueuePolicy) String() string {
	switch p {
	case BoundedBlocking:
		return "BoundedBlocking"
	case BoundedDropping:
		return "BoundedDropping"
	case UnboundedNoLimit:
		return "UnboundedNoLimit"
	default:
		return fmt.Sprintf("QueuePolicy(%d)", uint8(p))
	}
}
