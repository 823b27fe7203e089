package bitlog

import (
	"fmt"
	"runtime"
	"sort"
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

// Callsite is the immutable compile-time identity of one logging
// statement: source location, level, format string, and the ordered
// argument type descriptors. Register call sites from package-level
// var initializers so they all exist before NewFrontend serializes the
// catalog; the hot path only ever reads the assigned id.
type Callsite struct {
	file     string
	function string
	format   string
	types    []TypeDescriptor
	next     *Callsite
	line     uint32
	id       uint32
	level    LogLevel
}

var (
	callsiteHead atomic.Pointer[Callsite]
	callsiteID   atomix.Uint64
)

// RegisterCallsite registers a logging statement exactly once and
// assigns it the next dense id. Insertion is a lock-free head swap;
// nothing on the hot path ever synchronizes on the registry.
//
// It panics when more than maxStringArgs descriptors are string-ish:
// that is a call-site authoring error, caught at init time.
func RegisterCallsite(file string, line uint32, function string, level LogLevel, format string, types ...TypeDescriptor) *Callsite {
	stringish := 0
	for _, t := range types {
		if t.stringish() {
			stringish++
		}
	}
	if stringish > maxStringArgs {
		panic(fmt.Sprintf("bitlog: call site %s:%d has %d string arguments, max %d", file, line, stringish, maxStringArgs))
	}

	cs := &Callsite{
		file:     file,
		function: function,
		format:   format,
		types:    types,
		line:     line,
		id:       uint32(callsiteID.AddAcqRel(1) - 1),
		level:    level,
	}
	for {
		head := callsiteHead.Load()
		cs.next = head
		if callsiteHead.CompareAndSwap(head, cs) {
			return cs
		}
	}
}

// RegisterCallsiteHere registers a call site using the caller's source
// location. Intended for package-level var initializers where spelling
// out file and line would just duplicate what the runtime knows.
func RegisterCallsiteHere(level LogLevel, format string, types ...TypeDescriptor) *Callsite {
	pc, file, line, _ := runtime.Caller(1)
	function := "?"
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
	}
	return RegisterCallsite(file, uint32(line), function, level, format, types...)
}

// ID returns the dense call-site id used in record headers.
func (c *Callsite) ID() uint32 { return c.id }

// Level returns the call site's log level.
func (c *Callsite) Level() LogLevel { return c.level }

// Types returns the declared argument descriptors.
func (c *Callsite) Types() []TypeDescriptor { return c.types }

// snapshotCallsites walks the registry and returns all call sites in
// id order.
func snapshotCallsites() []*Callsite {
	var all []*Callsite
	for cs := callsiteHead.Load(); cs != nil; cs = cs.next {
		all = append(all, cs)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	return all
}
